package dto

// CreateClassRequest creates a roster. Admins may assign it to another teacher.
type CreateClassRequest struct {
	Name       string `json:"name" validate:"required,min=1,max=120"`
	GradeLevel string `json:"grade_level" validate:"required,oneof=K 1 2 3 4 5"`
	SchoolYear string `json:"school_year" validate:"required,max=20"`
	TeacherID  string `json:"teacher_id" validate:"omitempty,uuid"`
}

// AddStudentRequest adds a student to a roster.
type AddStudentRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
}

// ClassListQuery binds class list parameters.
type ClassListQuery struct {
	Search   string `form:"search"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// StudentSearchQuery binds the roster lookup used before enrolling a student.
type StudentSearchQuery struct {
	Q string `form:"q"`
}

// StudentSummary is one student search hit.
type StudentSummary struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}
