package dto

// ReportQuery binds report download parameters.
type ReportQuery struct {
	Format    string `form:"format" validate:"omitempty,oneof=csv json pdf"`
	ClassID   string `form:"class_id"`
	StudentID string `form:"student_id"`
}
