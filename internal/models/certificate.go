package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Certificate struct {
	ID               string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title            string    `gorm:"not null" json:"title"`
	InstallationDate time.Time `json:"installation_date"`

	SmilePhotoID  string `gorm:"type:varchar(36);not null;index" json:"smile_photo_id"`
	SmilePhoto    File   `gorm:"foreignKey:SmilePhotoID;constraint:OnDelete:RESTRICT" json:"smile_photo"`
	DigitalCopyID string `gorm:"type:varchar(36);not null;index" json:"digital_copy_id"`
	DigitalCopy   File   `gorm:"foreignKey:DigitalCopyID;constraint:OnDelete:RESTRICT" json:"digital_copy"`

	DoctorFirstName     string `json:"doctor_first_name"`
	DoctorLastName      string `json:"doctor_last_name"`
	ClinicName          string `json:"clinic_name"`
	ClinicCity          string `json:"clinic_city"`
	TechnicianFirstName string `json:"technician_first_name"`
	TechnicianLastName  string `json:"technician_last_name"`
	MaterialType        string `json:"material_type"`
	MaterialColor       string `json:"material_color"`
	FixationType        string `json:"fixation_type"`
	FixationColor       string `json:"fixation_color"`

	DentalFormula DentalFormula `gorm:"serializer:json;type:text" json:"dental_formula"`

	UserID *string `gorm:"type:varchar(36);index" json:"user_id,omitempty"`
	User   *User   `gorm:"constraint:OnDelete:SET NULL" json:"user,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Certificate) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
