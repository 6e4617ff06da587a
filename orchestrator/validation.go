// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"matchflow/platform/orchestrator/match"
)

// ValidationError lists the fields a request got wrong. It is the only
// error surfaced to API callers.
type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for f, msg := range e.Errors {
		fields = append(fields, f+" "+msg)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, "; ")
}

// MatchRequestBody is the body of POST /api/v2/match.
type MatchRequestBody struct {
	Candidate CandidateBody          `json:"candidate"`
	Offers    []OfferBody            `json:"offers" validate:"required,min=1,max=500,dive"`
	Config    map[string]interface{} `json:"config,omitempty"`
}

// CandidateBody is the candidate part of MatchRequestBody.
type CandidateBody struct {
	Skills        []string                `json:"skills" validate:"required,min=1,dive,required"`
	Experience    []match.ExperienceEntry `json:"experience"`
	Location      string                  `json:"location,omitempty"`
	Questionnaire map[string]interface{}  `json:"questionnaire,omitempty"`
}

// OfferBody is one offer of MatchRequestBody.
type OfferBody struct {
	ID             string                 `json:"id" validate:"required"`
	Title          string                 `json:"title,omitempty"`
	RequiredSkills []string               `json:"required_skills" validate:"required"`
	Location       string                 `json:"location,omitempty"`
	Questionnaire  map[string]interface{} `json:"questionnaire,omitempty"`
}

// ToRequest builds the canonical request.
func (b *MatchRequestBody) ToRequest(requestID, algorithm, userID string) *match.Request {
	req := &match.Request{
		RequestID: requestID,
		Candidate: match.CandidateProfile{
			Skills:        b.Candidate.Skills,
			Experience:    b.Candidate.Experience,
			Location:      b.Candidate.Location,
			Questionnaire: b.Candidate.Questionnaire,
		},
		Offers:    make([]match.JobOffer, 0, len(b.Offers)),
		Algorithm: algorithm,
		UserID:    userID,
		Config:    b.Config,
	}
	for _, o := range b.Offers {
		req.Offers = append(req.Offers, match.JobOffer{
			ID:             o.ID,
			Title:          o.Title,
			RequiredSkills: o.RequiredSkills,
			Location:       o.Location,
			Questionnaire:  o.Questionnaire,
		})
	}
	return req
}

// RequestValidator wraps a validator that reports JSON field paths.
type RequestValidator struct {
	v *validator.Validate
}

// NewRequestValidator creates a validator.
func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{v: v}
}

// Validate returns a *ValidationError or nil.
func (rv *RequestValidator) Validate(body interface{}) error {
	err := rv.v.Struct(body)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Errors: map[string]string{"body": err.Error()}}
	}

	out := &ValidationError{Errors: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Errors[fieldPath(fe.Namespace())] = message(fe)
	}
	return out
}

// fieldPath drops the root struct name from a namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "max":
		return fmt.Sprintf("must contain at most %s item(s)", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
