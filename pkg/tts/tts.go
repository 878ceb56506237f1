package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/noah-isme/readaloud-api/pkg/config"
)

// Voices supported by the synthesizer.
const (
	VoiceFemale1 = "female_1"
	VoiceFemale2 = "female_2"
	VoiceMale1   = "male_1"
	VoiceMale2   = "male_2"
)

// ContentType of synthesized audio.
const ContentType = "audio/mpeg"

// maxChunkLength is the longest text accepted by the endpoint in one request.
const maxChunkLength = 200

// ErrUnknownVoice is returned for voices outside the supported set.
var ErrUnknownVoice = errors.New("tts: unknown voice")

// Synthesizer converts text to MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Voices returns the supported voice identifiers.
func Voices() []string {
	return []string{VoiceFemale1, VoiceFemale2, VoiceMale1, VoiceMale2}
}

// ValidVoice reports whether voice is supported.
func ValidVoice(voice string) bool {
	_, ok := voiceProfiles[voice]
	return ok
}

type voiceProfile struct {
	accent string
	speed  string
}

var voiceProfiles = map[string]voiceProfile{
	VoiceFemale1: {accent: "US", speed: "1"},
	VoiceFemale2: {accent: "GB", speed: "1"},
	VoiceMale1:   {accent: "AU", speed: "0.9"},
	VoiceMale2:   {accent: "IN", speed: "0.9"},
}

// HTTPSynthesizer calls a translate_tts compatible endpoint and joins the MP3 segments.
type HTTPSynthesizer struct {
	endpoint string
	apiKey   string
	language string
	client   *http.Client
}

// NewHTTPSynthesizer builds a synthesizer from configuration.
func NewHTTPSynthesizer(cfg config.TTSConfig, client *http.Client) *HTTPSynthesizer {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	return &HTTPSynthesizer{endpoint: cfg.Endpoint, apiKey: cfg.APIKey, language: language, client: client}
}

// Synthesize renders text in the given voice.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	profile, ok := voiceProfiles[voice]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVoice, voice)
	}
	chunks := SplitText(text, maxChunkLength)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("tts: empty text")
	}
	buf := &bytes.Buffer{}
	for i, chunk := range chunks {
		if err := s.fetch(ctx, buf, chunk, profile, i, len(chunks)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (s *HTTPSynthesizer) fetch(ctx context.Context, w io.Writer, text string, profile voiceProfile, idx, total int) error {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("q", text)
	params.Set("tl", s.language+"-"+profile.accent)
	params.Set("client", "tw-ob")
	params.Set("ttsspeed", profile.speed)
	params.Set("textlen", strconv.Itoa(len(text)))
	params.Set("idx", strconv.Itoa(idx))
	params.Set("total", strconv.Itoa(total))
	if s.apiKey != "" {
		params.Set("key", s.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("tts: fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tts: unexpected status code %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("tts: read audio: %w", err)
	}
	return nil
}

// SplitText breaks text into chunks no longer than limit, preferring sentence then word boundaries.
func SplitText(text string, limit int) []string {
	words := strings.FieldsFunc(text, unicode.IsSpace)
	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}
	for _, word := range words {
		for len(word) > limit {
			flush()
			chunks = append(chunks, word[:limit])
			word = word[limit:]
		}
		if current.Len() > 0 && current.Len()+1+len(word) > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
		if endsSentence(word) && current.Len() > limit/2 {
			flush()
		}
	}
	flush()
	return chunks
}

func endsSentence(word string) bool {
	return strings.HasSuffix(word, ".") || strings.HasSuffix(word, "!") || strings.HasSuffix(word, "?")
}
