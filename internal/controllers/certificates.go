package controllers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smilecert/internal/certificates"
	"smilecert/internal/middleware"
	"smilecert/internal/models"
	"smilecert/internal/pdf"
	"smilecert/internal/repository"
)

type CertificateController struct {
	svc *certificates.Service
	pdf *pdf.Renderer
	log *slog.Logger
}

func NewCertificateController(svc *certificates.Service, renderer *pdf.Renderer, log *slog.Logger) *CertificateController {
	return &CertificateController{svc: svc, pdf: renderer, log: log}
}

// openUpload returns nil without error when the field is absent or the
// request carries no multipart body.
func openUpload(c *gin.Context, field string) (*certificates.Upload, io.Closer, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", certificates.ErrInvalidInput, field, err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", field, err)
	}
	return &certificates.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	}, f, nil
}

func openUploads(c *gin.Context) (smile, digital *certificates.Upload, closeAll func(), err error) {
	var closers []io.Closer
	closeAll = func() {
		for _, cl := range closers {
			_ = cl.Close()
		}
	}
	smile, cl, err := openUpload(c, "smilePhoto")
	if err != nil {
		return nil, nil, closeAll, err
	}
	if cl != nil {
		closers = append(closers, cl)
	}
	digital, cl, err = openUpload(c, "digitalCopy")
	if err != nil {
		return nil, nil, closeAll, err
	}
	if cl != nil {
		closers = append(closers, cl)
	}
	return smile, digital, closeAll, nil
}

func optional(c *gin.Context, key string) *string {
	if v, ok := c.GetPostForm(key); ok {
		return &v
	}
	return nil
}

func formOwner(c *gin.Context) *certificates.Owner {
	email, e := c.GetPostForm("userEmail")
	first, f := c.GetPostForm("userFirstName")
	last, l := c.GetPostForm("userLastName")
	if !e && !f && !l {
		return nil
	}
	return &certificates.Owner{Email: email, FirstName: first, LastName: last}
}

func (h *CertificateController) Create(c *gin.Context) {
	smile, digital, closeAll, err := openUploads(c)
	defer closeAll()
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	actor, _ := middleware.SubjectFrom(c)

	in := certificates.CreateInput{
		Title:            c.PostForm("title"),
		InstallationDate: c.PostForm("installationDate"),
		DentalFormula:    c.PostForm("dentalFormula"),
		Owner:            formOwner(c),
		SmilePhoto:       smile,
		DigitalCopy:      digital,
		Details: certificates.Details{
			DoctorFirstName:     c.PostForm("doctorFirstName"),
			DoctorLastName:      c.PostForm("doctorLastName"),
			ClinicName:          c.PostForm("clinicName"),
			ClinicCity:          c.PostForm("clinicCity"),
			TechnicianFirstName: c.PostForm("technicianFirstName"),
			TechnicianLastName:  c.PostForm("technicianLastName"),
			MaterialType:        c.PostForm("materialType"),
			MaterialColor:       c.PostForm("materialColor"),
			FixationType:        c.PostForm("fixationType"),
			FixationColor:       c.PostForm("fixationColor"),
		},
	}
	res, err := h.svc.Create(c.Request.Context(), actor.ID, in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *CertificateController) Update(c *gin.Context) {
	smile, digital, closeAll, err := openUploads(c)
	defer closeAll()
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	actor, _ := middleware.SubjectFrom(c)

	in := certificates.UpdateInput{
		Title:            optional(c, "title"),
		InstallationDate: optional(c, "installationDate"),
		DentalFormula:    optional(c, "dentalFormula"),
		Owner:            formOwner(c),
		SmilePhoto:       smile,
		DigitalCopy:      digital,
		Details: certificates.DetailsPatch{
			DoctorFirstName:     optional(c, "doctorFirstName"),
			DoctorLastName:      optional(c, "doctorLastName"),
			ClinicName:          optional(c, "clinicName"),
			ClinicCity:          optional(c, "clinicCity"),
			TechnicianFirstName: optional(c, "technicianFirstName"),
			TechnicianLastName:  optional(c, "technicianLastName"),
			MaterialType:        optional(c, "materialType"),
			MaterialColor:       optional(c, "materialColor"),
			FixationType:        optional(c, "fixationType"),
			FixationColor:       optional(c, "fixationColor"),
		},
	}
	res, err := h.svc.Update(c.Request.Context(), actor.ID, c.Param("id"), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *CertificateController) Delete(c *gin.Context) {
	res, err := h.svc.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "warnings": res.Warnings})
}

func (h *CertificateController) Get(c *gin.Context) {
	cert, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

// List serves the admin table: ?q=&page=&page_size=
func (h *CertificateController) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("page_size"))
	res, err := h.svc.List(c.Request.Context(), c.Query("q"), repository.PageRequest{Page: page, PageSize: size})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Mine lists the signed-in patient's certificates.
func (h *CertificateController) Mine(c *gin.Context) {
	s, ok := middleware.SubjectFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no user in context"})
		return
	}
	items, err := h.svc.ListForUser(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// publicCertificate is what anyone holding the link may see. The owner's
// email and user id stay private.
type publicCertificate struct {
	ID                  string               `json:"id"`
	Title               string               `json:"title"`
	InstallationDate    time.Time            `json:"installation_date"`
	Patient             string               `json:"patient,omitempty"`
	DoctorFirstName     string               `json:"doctor_first_name"`
	DoctorLastName      string               `json:"doctor_last_name"`
	ClinicName          string               `json:"clinic_name"`
	ClinicCity          string               `json:"clinic_city"`
	TechnicianFirstName string               `json:"technician_first_name"`
	TechnicianLastName  string               `json:"technician_last_name"`
	MaterialType        string               `json:"material_type"`
	MaterialColor       string               `json:"material_color"`
	FixationType        string               `json:"fixation_type"`
	FixationColor       string               `json:"fixation_color"`
	DentalFormula       models.DentalFormula `json:"dental_formula"`
	SmilePhoto          string               `json:"smile_photo"`
	DigitalCopy         string               `json:"digital_copy"`
	CreatedAt           time.Time            `json:"created_at"`
}

func toPublic(c *models.Certificate) publicCertificate {
	out := publicCertificate{
		ID:                  c.ID,
		Title:               c.Title,
		InstallationDate:    c.InstallationDate,
		DoctorFirstName:     c.DoctorFirstName,
		DoctorLastName:      c.DoctorLastName,
		ClinicName:          c.ClinicName,
		ClinicCity:          c.ClinicCity,
		TechnicianFirstName: c.TechnicianFirstName,
		TechnicianLastName:  c.TechnicianLastName,
		MaterialType:        c.MaterialType,
		MaterialColor:       c.MaterialColor,
		FixationType:        c.FixationType,
		FixationColor:       c.FixationColor,
		DentalFormula:       c.DentalFormula,
		SmilePhoto:          c.SmilePhoto.Link,
		DigitalCopy:         c.DigitalCopy.Link,
		CreatedAt:           c.CreatedAt,
	}
	if c.User != nil {
		out.Patient = c.User.DisplayName()
	}
	return out
}

func (h *CertificateController) PublicList(c *gin.Context) {
	items, err := h.svc.ListPublic(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	out := make([]publicCertificate, 0, len(items))
	for i := range items {
		out = append(out, toPublic(&items[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (h *CertificateController) PublicView(c *gin.Context) {
	cert, err := h.svc.PublicView(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toPublic(cert))
}

func (h *CertificateController) PDF(c *gin.Context) {
	cert, err := h.svc.PublicView(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	var buf bytes.Buffer
	if err := h.pdf.Render(&buf, cert); err != nil {
		respondError(c, h.log, fmt.Errorf("render pdf: %w", err))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="certificate-%s.pdf"`, cert.ID))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}
