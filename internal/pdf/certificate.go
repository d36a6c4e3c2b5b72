package pdf

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"smilecert/internal/models"
)

// Renderer draws certificates as single page A4 documents. With an empty
// FontPath the core Helvetica font is used and text is mapped to cp1252.
type Renderer struct {
	FontPath string
	fontName string
}

func NewRenderer(fontPath string) *Renderer {
	r := &Renderer{FontPath: fontPath, fontName: "Helvetica"}
	if fontPath != "" {
		r.fontName = "DejaVu"
	}
	return r
}

// Render writes the certificate PDF to w.
func (r *Renderer) Render(w io.Writer, cert *models.Certificate) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(cert.Title, true)
	pdf.SetAuthor("Smile certificates", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 20)

	tr := func(s string) string { return s }
	if r.FontPath != "" {
		pdf.AddUTF8Font(r.fontName, "", r.FontPath)
		pdf.AddUTF8Font(r.fontName, "B", r.FontPath)
	} else {
		tr = pdf.UnicodeTranslatorFromDescriptor("")
	}
	pdf.AddPage()

	pdf.SetFont(r.fontName, "B", 20)
	pdf.CellFormat(0, 12, tr("CERTIFICATE"), "", 1, "C", false, 0, "")
	pdf.SetFont(r.fontName, "", 14)
	pdf.CellFormat(0, 8, tr(cert.Title), "", 1, "C", false, 0, "")
	pdf.SetFont(r.fontName, "", 10)
	pdf.CellFormat(0, 6, tr("No. "+cert.ID), "", 1, "C", false, 0, "")
	r.hr(pdf)

	r.section(pdf, tr("Installation"))
	r.kv(pdf, tr("Date"), cert.InstallationDate.Format("02.01.2006"))
	r.kv(pdf, tr("Clinic"), tr(joinNonEmpty(", ", cert.ClinicName, cert.ClinicCity)))
	r.kv(pdf, tr("Doctor"), tr(joinNonEmpty(" ", cert.DoctorFirstName, cert.DoctorLastName)))
	r.kv(pdf, tr("Technician"), tr(joinNonEmpty(" ", cert.TechnicianFirstName, cert.TechnicianLastName)))
	if cert.User != nil {
		r.kv(pdf, tr("Patient"), tr(cert.User.DisplayName()))
	}
	r.hr(pdf)

	r.section(pdf, tr("Restoration"))
	r.kv(pdf, tr("Material"), tr(joinNonEmpty(", ", cert.MaterialType, cert.MaterialColor)))
	r.kv(pdf, tr("Fixation"), tr(joinNonEmpty(", ", cert.FixationType, cert.FixationColor)))
	r.hr(pdf)

	r.section(pdf, tr(fmt.Sprintf("Dental formula (%d teeth)", cert.DentalFormula.Count())))
	r.formula(pdf, cert.DentalFormula)

	return pdf.Output(w)
}

// formula draws the jaws as two rows of 16 cells. Quadrants are numbered
// from the midline outwards, so the left side is drawn mirrored.
func (r *Renderer) formula(pdf *gofpdf.Fpdf, f models.DentalFormula) {
	const cell = 9.0
	left := (210 - cell*2*models.TeethPerSide) / 2
	pdf.SetFont(r.fontName, "", 9)
	pdf.SetLineWidth(0.3)

	row := func(j models.Jaw) {
		pdf.SetX(left)
		for i := models.TeethPerSide - 1; i >= 0; i-- {
			r.tooth(pdf, cell, i+1, j.Left[i])
		}
		for i := 0; i < models.TeethPerSide; i++ {
			r.tooth(pdf, cell, i+1, j.Right[i])
		}
		pdf.Ln(cell)
	}
	row(f.Top)
	y := pdf.GetY()
	pdf.SetLineWidth(0.6)
	pdf.Line(left, y, left+cell*2*models.TeethPerSide, y)
	pdf.SetLineWidth(0.3)
	row(f.Bottom)
}

func (r *Renderer) tooth(pdf *gofpdf.Fpdf, size float64, n int, marked bool) {
	fill := false
	if marked {
		pdf.SetFillColor(120, 190, 230)
		fill = true
	}
	pdf.CellFormat(size, size, fmt.Sprint(n), "1", 0, "C", fill, 0, "")
}

func (r *Renderer) section(pdf *gofpdf.Fpdf, s string) {
	pdf.SetFont(r.fontName, "B", 12)
	pdf.CellFormat(0, 8, s, "", 1, "L", false, 0, "")
}

func (r *Renderer) kv(pdf *gofpdf.Fpdf, key, val string) {
	if val == "" {
		val = "-"
	}
	pdf.SetFont(r.fontName, "B", 11)
	pdf.CellFormat(40, 6, key+":", "", 0, "L", false, 0, "")
	pdf.SetFont(r.fontName, "", 11)
	pdf.CellFormat(0, 6, val, "", 1, "L", false, 0, "")
}

func (r *Renderer) hr(pdf *gofpdf.Fpdf) {
	y := pdf.GetY() + 1.5
	pdf.SetLineWidth(0.2)
	pdf.Line(20, y, 190, y)
	pdf.SetY(y + 3)
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
