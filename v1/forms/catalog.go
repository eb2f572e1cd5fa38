// Package forms holds the static per-form-type configuration: attachment
// slot definitions and field-editability tables. Everything here is
// read-only after process start; the engines consume it as data.
package forms

import (
	"path/filepath"
	"strings"

	"github.com/campus-dx/grant-engine/v1/models"
)

// Cardinality describes how many files a slot may hold.
type Cardinality struct {
	Single bool
	Max    int
}

// SlotDefinition declares one named attachment slot on a form type.
type SlotDefinition struct {
	Name string
	Cardinality
	// AllowedTypes holds lowercase file extensions (".pdf") and/or exact
	// mime types ("application/pdf"); a file matching either is accepted
	AllowedTypes []string
	MaxSizeBytes int64
	// ExclusivityGroup, when non-empty, forbids archive and non-archive
	// files from populating the slot in the same submission; an accepted
	// archive replaces the retained documents and vice versa
	ExclusivityGroup string
}

// MaxCount returns the effective maximum number of files for the slot.
func (d SlotDefinition) MaxCount() int {
	if d.Single {
		return 1
	}
	return d.Max
}

// Allows reports whether a file with the given name and declared mime
// type passes the slot's type rules.
func (d SlotDefinition) Allows(fileName, mimeType string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	for _, t := range d.AllowedTypes {
		if strings.HasPrefix(t, ".") {
			if ext == t {
				return true
			}
		} else if mime == t {
			return true
		}
	}
	return false
}

// IsArchive reports whether the file counts as the archive kind for
// exclusivity purposes.
func IsArchive(fileName, mimeType string) bool {
	if strings.EqualFold(filepath.Ext(fileName), ".zip") {
		return true
	}
	switch strings.ToLower(mimeType) {
	case "application/zip", "application/x-zip-compressed":
		return true
	}
	return false
}

// editKey addresses one cell of the field-editability table.
type editKey struct {
	Role   models.Role
	Status models.Status
}

// FormDefinition is the full static configuration for one form type.
type FormDefinition struct {
	Type   models.FormType
	Fields []string
	Slots  []SlotDefinition
	// editable maps (role, status) to the field names that role may write
	// while the application is in that status. Absent pairs mean nothing
	// is editable; admin bypasses the table entirely.
	editable map[editKey][]string
}

// Slot returns the definition for a named slot.
func (f *FormDefinition) Slot(name string) (SlotDefinition, bool) {
	for _, s := range f.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return SlotDefinition{}, false
}

// HasField reports whether the field name is valid for the form type.
func (f *FormDefinition) HasField(name string) bool {
	for _, fld := range f.Fields {
		if fld == name {
			return true
		}
	}
	return false
}

// WritableFields returns the field names the role may write in the given
// status, per the editability table. The returned slice is shared static
// data and must not be mutated.
func (f *FormDefinition) WritableFields(role models.Role, status models.Status) []string {
	return f.editable[editKey{Role: role, Status: status}]
}

// Common slot size limits. These vary per slot on purpose: signature
// images stay small while document bundles allow scanned PDFs.
const (
	signatureMaxBytes = 5 * 1024 * 1024
	receiptMaxBytes   = 5 * 1024 * 1024
	documentMaxBytes  = 25 * 1024 * 1024
)

func signatureSlot(name string) SlotDefinition {
	return SlotDefinition{
		Name:         name,
		Cardinality:  Cardinality{Single: true},
		AllowedTypes: []string{".jpg", ".jpeg", ".png", "image/jpeg", "image/png"},
		MaxSizeBytes: signatureMaxBytes,
	}
}

func documentsSlot() SlotDefinition {
	return SlotDefinition{
		Name:             "pdfDocuments",
		Cardinality:      Cardinality{Max: 5},
		AllowedTypes:     []string{".pdf", ".zip", "application/pdf", "application/zip"},
		MaxSizeBytes:     documentMaxBytes,
		ExclusivityGroup: "documents",
	}
}

func receiptsSlot(max int) SlotDefinition {
	return SlotDefinition{
		Name:         "receipts",
		Cardinality:  Cardinality{Max: max},
		AllowedTypes: []string{".pdf", ".jpg", ".jpeg", ".png", "application/pdf", "image/jpeg", "image/png"},
		MaxSizeBytes: receiptMaxBytes,
	}
}

// studentEditable builds the standard editability table: the student may
// write every form field while pending, and the sanctioned amount is
// reviewer-set during review.
func studentEditable(fields []string) map[editKey][]string {
	return map[editKey][]string{
		{Role: models.RoleStudent, Status: models.StatusPending}:         fields,
		{Role: models.RoleGuide, Status: models.StatusPending}:           {"guideName", "guideDepartment"},
		{Role: models.RoleGuide, Status: models.StatusUnderReview}:       {"guideName", "guideDepartment"},
		{Role: models.RoleCoordinator, Status: models.StatusUnderReview}: {"sanctionedAmount"},
		{Role: models.RolePrincipal, Status: models.StatusUnderReview}:   {"sanctionedAmount"},
	}
}

func newForm(ft models.FormType, studentFields []string, slots ...SlotDefinition) *FormDefinition {
	all := make([]string, 0, len(studentFields)+1)
	all = append(all, studentFields...)
	all = append(all, "sanctionedAmount")
	return &FormDefinition{
		Type:     ft,
		Fields:   all,
		Slots:    slots,
		editable: studentEditable(studentFields),
	}
}

// catalog is the closed set of supported form types.
var catalog = map[models.FormType]*FormDefinition{
	models.FormUG1: newForm(models.FormUG1,
		[]string{"projectTitle", "projectAbstract", "budgetAmount", "durationMonths", "guideName", "guideDepartment"},
		signatureSlot("studentSignature"), signatureSlot("guideSignature"), documentsSlot(),
	),
	models.FormUG2: newForm(models.FormUG2,
		[]string{"paperTitle", "conferenceName", "conferenceVenue", "conferenceDate", "travelAmount", "guideName", "guideDepartment"},
		signatureSlot("studentSignature"), signatureSlot("guideSignature"), documentsSlot(), receiptsSlot(2),
	),
	models.FormUG3A: newForm(models.FormUG3A,
		[]string{"workshopTitle", "organizer", "venue", "startDate", "endDate", "registrationFee"},
		signatureSlot("studentSignature"), documentsSlot(), receiptsSlot(2),
	),
	models.FormUG3B: newForm(models.FormUG3B,
		[]string{"visitPurpose", "organization", "visitDate", "travelAmount"},
		signatureSlot("studentSignature"), documentsSlot(), receiptsSlot(2),
	),
	models.FormPG1: newForm(models.FormPG1,
		[]string{"projectTitle", "projectAbstract", "budgetAmount", "equipmentDetails", "guideName", "guideDepartment"},
		signatureSlot("studentSignature"), signatureSlot("guideSignature"), documentsSlot(),
	),
	models.FormPG2A: newForm(models.FormPG2A,
		[]string{"paperTitle", "conferenceName", "conferenceVenue", "conferenceDate", "travelAmount", "registrationAmount", "guideName", "guideDepartment"},
		signatureSlot("studentSignature"), signatureSlot("guideSignature"), documentsSlot(), receiptsSlot(2),
	),
	models.FormPG2B: newForm(models.FormPG2B,
		[]string{"paperTitle", "journalName", "publisher", "publicationCharge", "guideName", "guideDepartment"},
		signatureSlot("studentSignature"), signatureSlot("guideSignature"), documentsSlot(),
	),
	models.FormR1: newForm(models.FormR1,
		[]string{"expenseDescription", "totalAmount", "billCount", "projectCode"},
		signatureSlot("studentSignature"), documentsSlot(), receiptsSlot(5),
	),
}

// Lookup returns the definition for a form type.
func Lookup(ft models.FormType) (*FormDefinition, bool) {
	def, ok := catalog[ft]
	return def, ok
}

// Types returns all supported form types.
func Types() []models.FormType {
	out := make([]models.FormType, 0, len(catalog))
	for ft := range catalog {
		out = append(out, ft)
	}
	return out
}
