// Package snapshot builds the immutable document a credential anchors. The
// serialized bytes are stored alongside the credential; the hash of those bytes
// is what goes on chain, so later corrections to live records never change an
// issued proof.
package snapshot

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"semaphore/credentials/internal/model"
)

const Version = 1

// StudentRecord types the snapshot behind a student's identity token. It is
// never the type of a stored credential.
const StudentRecord model.CredentialType = "STUDENT_RECORD"

type Student struct {
	ID               string `json:"id"`
	EnrollmentNumber string `json:"enrollmentNumber"`
	Name             string `json:"name"`
	ProgramCode      string `json:"programCode"`
	ProgramName      string `json:"programName"`
}

type Course struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Credits     int     `json:"credits"`
	Grade       string  `json:"grade"`
	GradePoints float64 `json:"gradePoints"`
}

type Semester struct {
	Semester      int      `json:"semester"`
	AcademicYear  string   `json:"academicYear"`
	SGPA          float64  `json:"sgpa"`
	TotalCredits  int      `json:"totalCredits"`
	EarnedCredits int      `json:"earnedCredits"`
	Courses       []Course `json:"courses"`
}

type Degree struct {
	DegreeName             string  `json:"degreeName"`
	CGPA                   float64 `json:"cgpa"`
	TotalCredits           int     `json:"totalCredits"`
	CompletedSemesters     int     `json:"completedSemesters"`
	ExpectedGraduationYear int     `json:"expectedGraduationYear"`
}

type Certificate struct {
	Kind           string `json:"kind"`
	YearsCompleted int    `json:"yearsCompleted,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Document field order is fixed by the struct, which is what makes the JSON
// encoding canonical. Do not add map-typed fields.
type Document struct {
	Version     int                  `json:"version"`
	Institution string               `json:"institution"`
	Type        model.CredentialType `json:"type"`
	Title       string               `json:"title"`
	Student     Student              `json:"student"`
	Semester    *Semester            `json:"semester,omitempty"`
	Degree      *Degree              `json:"degree,omitempty"`
	Certificate *Certificate         `json:"certificate,omitempty"`
	CreatedAt   string               `json:"createdAt"`
}

func StudentOf(student model.Student, program model.Program) Student {
	return Student{
		ID:               student.ID.String(),
		EnrollmentNumber: student.EnrollmentNumber,
		Name:             student.FullName(),
		ProgramCode:      program.Code,
		ProgramName:      program.Name,
	}
}

func SemesterOf(result model.SemesterResult, courses []model.CourseResult) *Semester {
	s := &Semester{
		Semester:      result.Semester,
		AcademicYear:  result.AcademicYear,
		SGPA:          result.SGPA,
		TotalCredits:  result.TotalCredits,
		EarnedCredits: result.EarnedCredits,
		Courses:       make([]Course, 0, len(courses)),
	}
	for _, c := range courses {
		s.Courses = append(s.Courses, Course{
			Code:        c.CourseCode,
			Name:        c.CourseName,
			Credits:     c.Credits,
			Grade:       c.Grade,
			GradePoints: c.GradePoints,
		})
	}
	return s
}

func DegreeOf(proposal model.DegreeProposal, program model.Program) *Degree {
	return &Degree{
		DegreeName:             program.DegreeName,
		CGPA:                   proposal.CGPA,
		TotalCredits:           proposal.TotalCredits,
		CompletedSemesters:     proposal.CompletedSemesters,
		ExpectedGraduationYear: proposal.ExpectedGraduationYear,
	}
}

func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Digest identifies a serialized document two ways: the 0x-prefixed sha2-256
// hex anchored on chain and a CIDv1 URI for the same bytes.
type Digest struct {
	Hash string
	URI  string
	Sum  [32]byte
}

// Seal serializes the document and digests the result.
func Seal(doc Document) ([]byte, Digest, error) {
	if doc.Version == 0 {
		doc.Version = Version
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, Digest{}, fmt.Errorf("encode snapshot: %w", err)
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")
	digest, err := DigestOf(data)
	if err != nil {
		return nil, Digest{}, err
	}
	return data, digest, nil
}

func DigestOf(data []byte) (Digest, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return Digest{}, fmt.Errorf("hash snapshot: %w", err)
	}
	decoded, err := multihash.Decode(sum)
	if err != nil {
		return Digest{}, fmt.Errorf("decode multihash: %w", err)
	}
	var d Digest
	copy(d.Sum[:], decoded.Digest)
	d.Hash = "0x" + hex.EncodeToString(decoded.Digest)
	d.URI = "ipfs://" + cid.NewCidV1(cid.Raw, sum).String()
	return d, nil
}

// ParseHash decodes a 0x-prefixed 32 byte hash.
func ParseHash(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, errors.New("hash must be 32 bytes")
	}
	copy(out[:], raw)
	return out, nil
}

// Decode parses stored metadata back into a document.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}
