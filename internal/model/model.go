package model

import (
	"time"

	"github.com/google/uuid"
)

type StudentStatus string

const (
	StudentActive     StudentStatus = "ACTIVE"
	StudentGraduated  StudentStatus = "GRADUATED"
	StudentDroppedOut StudentStatus = "DROPPED_OUT"
	StudentEarlyExit  StudentStatus = "EARLY_EXIT"
)

type Program struct {
	ID                uuid.UUID `json:"id"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	DegreeName        string    `json:"degreeName"`
	RequiredCredits   int       `json:"requiredCredits"`
	RequiredSemesters int       `json:"requiredSemesters"`
	CreatedAt         time.Time `json:"createdAt"`
}

type Course struct {
	ID        uuid.UUID `json:"id"`
	ProgramID uuid.UUID `json:"programId"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
}

type Student struct {
	ID               uuid.UUID     `json:"id"`
	ProgramID        uuid.UUID     `json:"programId"`
	EnrollmentNumber string        `json:"enrollmentNumber"`
	FirstName        string        `json:"firstName"`
	LastName         string        `json:"lastName"`
	Email            string        `json:"email"`
	WalletAddress    string        `json:"walletAddress"`
	AdmissionYear    int           `json:"admissionYear"`
	CurrentSemester  int           `json:"currentSemester"`
	Status           StudentStatus `json:"status"`
	ExitReason       *string       `json:"exitReason,omitempty"`
	Token            *ChainRecord  `json:"token,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

func (s Student) FullName() string {
	if s.LastName == "" {
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

// ChainRecord mirrors what the contract reported for a confirmed mint. It is
// written in a single update, never field by field.
type ChainRecord struct {
	TokenID         string `json:"tokenId"`
	ContractAddress string `json:"contractAddress"`
	TxHash          string `json:"txHash"`
	BlockNumber     uint64 `json:"blockNumber"`
	ChainID         int64  `json:"chainId"`
}

type Marks struct {
	Internal *float64 `json:"internal,omitempty"`
	External *float64 `json:"external,omitempty"`
	Total    *float64 `json:"total,omitempty"`
}

type CourseResult struct {
	ID               uuid.UUID `json:"id"`
	SemesterResultID uuid.UUID `json:"semesterResultId"`
	CourseID         uuid.UUID `json:"courseId"`
	CourseCode       string    `json:"courseCode"`
	CourseName       string    `json:"courseName"`
	Marks            Marks     `json:"marks"`
	Grade            string    `json:"grade"`
	GradePoints      float64   `json:"gradePoints"`
	Credits          int       `json:"credits"`
	EarnedCredits    int       `json:"earnedCredits"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type SemesterResult struct {
	ID            uuid.UUID    `json:"id"`
	StudentID     uuid.UUID    `json:"studentId"`
	Semester      int          `json:"semester"`
	AcademicYear  string       `json:"academicYear"`
	SGPA          float64      `json:"sgpa"`
	TotalCredits  int          `json:"totalCredits"`
	EarnedCredits int          `json:"earnedCredits"`
	Status        ResultStatus `json:"status"`
	ReviewedBy    *uuid.UUID   `json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time   `json:"reviewedAt,omitempty"`
	ApprovedBy    *uuid.UUID   `json:"approvedBy,omitempty"`
	ApprovedAt    *time.Time   `json:"approvedAt,omitempty"`
	ApprovalNote  *string      `json:"approvalNote,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`

	Courses []CourseResult `json:"courses,omitempty"`
}

type ProposalStatus string

const (
	ProposalPendingAcademic ProposalStatus = "PENDING_ACADEMIC"
	ProposalPendingAdmin    ProposalStatus = "PENDING_ADMIN"
	ProposalApproved        ProposalStatus = "APPROVED"
	ProposalRejected        ProposalStatus = "REJECTED"
)

// Active reports whether the proposal blocks a new one for the same student.
func (s ProposalStatus) Active() bool {
	return s == ProposalPendingAcademic || s == ProposalPendingAdmin || s == ProposalApproved
}

type DegreeProposal struct {
	ID                     uuid.UUID      `json:"id"`
	StudentID              uuid.UUID      `json:"studentId"`
	TotalCredits           int            `json:"totalCredits"`
	RequiredCredits        int            `json:"requiredCredits"`
	CompletedSemesters     int            `json:"completedSemesters"`
	CGPA                   float64        `json:"cgpa"`
	HasBacklogs            bool           `json:"hasBacklogs"`
	ValidationPassed       bool           `json:"validationPassed"`
	ValidationErrors       []string       `json:"validationErrors"`
	ExpectedGraduationYear int            `json:"expectedGraduationYear"`
	Status                 ProposalStatus `json:"status"`
	AcademicReviewedBy     *uuid.UUID     `json:"academicReviewedBy,omitempty"`
	AcademicReviewedAt     *time.Time     `json:"academicReviewedAt,omitempty"`
	AcademicNote           *string        `json:"academicNote,omitempty"`
	AdminApprovedBy        *uuid.UUID     `json:"adminApprovedBy,omitempty"`
	AdminApprovedAt        *time.Time     `json:"adminApprovedAt,omitempty"`
	AdminNote              *string        `json:"adminNote,omitempty"`
	RejectedBy             *uuid.UUID     `json:"rejectedBy,omitempty"`
	RejectedAt             *time.Time     `json:"rejectedAt,omitempty"`
	RejectionReason        *string        `json:"rejectionReason,omitempty"`
	CreatedAt              time.Time      `json:"createdAt"`
	UpdatedAt              time.Time      `json:"updatedAt"`
}

type ShareLink struct {
	ID           uuid.UUID  `json:"id"`
	CredentialID uuid.UUID  `json:"credentialId"`
	Token        string     `json:"token"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	IsActive     bool       `json:"isActive"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
	ViewCount    int        `json:"viewCount"`
	CreatedBy    uuid.UUID  `json:"createdBy"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Usable reports whether the link still grants access at now.
func (l ShareLink) Usable(now time.Time) bool {
	return l.IsActive && now.Before(l.ExpiresAt)
}
