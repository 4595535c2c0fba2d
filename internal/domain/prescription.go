package domain

import (
	"context"
	"time"
)

// Questionnaire is the health questionnaire summary the engine needs.
// It is written by the questionnaire feature, read here.
type Questionnaire struct {
	ID          string    `bson:"_id,omitempty" json:"id"`
	UserID      string    `bson:"user_id" json:"user_id"`
	IsCompleted bool      `bson:"is_completed" json:"is_completed"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// Prescription is the summary of a generated audio prescription.
type Prescription struct {
	ID          string      `bson:"_id,omitempty" json:"id"`
	UserID      string      `bson:"user_id" json:"user_id"`
	PackageType PackageType `bson:"package_type" json:"package_type"`
	Frequencies []string    `bson:"frequencies" json:"frequencies"`
	CreatedAt   time.Time   `bson:"created_at" json:"created_at"`
}

// QuestionnaireRepository reads questionnaires.
type QuestionnaireRepository interface {
	GetLatestByUser(ctx context.Context, userID string) (*Questionnaire, error)
}

// PrescriptionRepository reads prescriptions.
type PrescriptionRepository interface {
	GetLatestByUser(ctx context.Context, userID string) (*Prescription, error)
}

// ShouldRegeneratePrescription decides whether a renewal needs a fresh prescription.
// A type change always regenerates. Otherwise a completed questionnaire that was
// updated after the latest prescription (or with no prescription at all) regenerates.
// Timestamps drive the decision because questionnaire updates happen independently of renewals.
func ShouldRegeneratePrescription(oldType, newType PackageType, q *Questionnaire, latest *Prescription) bool {
	if oldType != newType {
		return true
	}
	if q == nil || !q.IsCompleted {
		return false
	}
	if latest == nil {
		return true
	}
	return q.UpdatedAt.After(latest.CreatedAt)
}
