package domain

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/events"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// FormSection names one part of the pre-donation questionnaire.
type FormSection string

const (
	SectionPersonalInfo          FormSection = "personal_info"
	SectionGeneralEligibility    FormSection = "general_eligibility"
	SectionMedicalHistory        FormSection = "medical_history"
	SectionInfectiousDiseaseRisk FormSection = "infectious_disease_risk"
	SectionTravelLifestyle       FormSection = "travel_lifestyle"
	SectionWomenDonors           FormSection = "women_donors"
	SectionCurrentHealth         FormSection = "current_health"
	SectionConsentDeclaration    FormSection = "consent_declaration"
	SectionStaffChecks           FormSection = "staff_checks"
)

// FormSections lists every section in questionnaire order.
var FormSections = []FormSection{
	SectionPersonalInfo,
	SectionGeneralEligibility,
	SectionMedicalHistory,
	SectionInfectiousDiseaseRisk,
	SectionTravelLifestyle,
	SectionWomenDonors,
	SectionCurrentHealth,
	SectionConsentDeclaration,
	SectionStaffChecks,
}

const FormStatusSubmitted = "submitted"

// DonationForm is the questionnaire a donor files after accepting a
// request. There is at most one per donor per request.
type DonationForm struct {
	RequestID   types.ID                       `json:"request_id"`
	DonorID     types.ID                       `json:"donor_id"`
	HospitalID  types.ID                       `json:"hospital_id,omitempty"`
	Answers     map[FormSection]map[string]any `json:"form_data"`
	Status      string                         `json:"status"`
	SubmittedAt time.Time                      `json:"submitted_at"`
}

// NewDonationForm builds the form for an accepted response. Every section is
// present in the result; sections the donor skipped are empty.
func NewDonationForm(r Responded, answers map[string]map[string]any, now time.Time) (*DonationForm, error) {
	if !r.Accepted() {
		return nil, errors.BadRequest("a donation form can only be submitted after accepting the request")
	}

	known := make(map[FormSection]bool, len(FormSections))
	for _, s := range FormSections {
		known[s] = true
	}
	details := map[string]string{}
	for name := range answers {
		if !known[FormSection(name)] {
			details[name] = "unknown section"
		}
	}
	if len(details) > 0 {
		return nil, errors.Validation("invalid donation form", details)
	}

	out := make(map[FormSection]map[string]any, len(FormSections))
	for _, s := range FormSections {
		section := answers[string(s)]
		if section == nil {
			section = map[string]any{}
		}
		out[s] = section
	}

	return &DonationForm{
		RequestID:   r.RequestID,
		DonorID:     r.DonorID,
		HospitalID:  r.HospitalID,
		Answers:     out,
		Status:      FormStatusSubmitted,
		SubmittedAt: now,
	}, nil
}

// SubmitForm files the donor's questionnaire for a request they accepted.
// A second submission for the same request is a Conflict.
func (t *Tracker) SubmitForm(ctx context.Context, requestID, donorID types.ID, answers map[string]map[string]any) (*DonationForm, error) {
	rec, err := t.repo.Get(ctx, requestID, donorID)
	if err != nil {
		return nil, err
	}
	r, ok := rec.(Responded)
	if !ok {
		return nil, errors.BadRequest("a donation form can only be submitted after accepting the request")
	}

	form, err := NewDonationForm(r, answers, t.now())
	if err != nil {
		return nil, err
	}
	if err := t.repo.SaveForm(ctx, form); err != nil {
		return nil, err
	}

	t.logger.Info("donation form submitted",
		zap.String("request_id", requestID.String()),
		zap.String("donor_id", donorID.String()),
	)
	t.publish(ctx, events.NewEvent(events.TypeFormSubmitted, eventSource, map[string]any{
		"request_id": requestID,
		"donor_id":   donorID,
	}).WithActor(donorID, "donor").WithCorrelation(requestID.String()))

	return form, nil
}

// Forms lists the questionnaires filed for a request, earliest first.
func (t *Tracker) Forms(ctx context.Context, requestID types.ID) ([]DonationForm, error) {
	return t.repo.ListForms(ctx, requestID)
}
