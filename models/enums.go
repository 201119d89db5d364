package models

import (
	"errors"
	"strings"
)

type FamilyKind string

const (
	FamilyKindBalance        FamilyKind = "balance"
	FamilyKindActivity       FamilyKind = "activity"
	FamilyKindRate           FamilyKind = "rate"
	FamilyKindRunningBalance FamilyKind = "running_balance"
)

func (t FamilyKind) IsValid() bool {
	switch t {
	case FamilyKindBalance, FamilyKindActivity, FamilyKindRate, FamilyKindRunningBalance:
		return true
	}
	return false
}

// convert yaml scalar to enum
func (t *FamilyKind) UnmarshalText(b []byte) error {
	k := FamilyKind(strings.ToLower(strings.TrimSpace(string(b))))
	if !k.IsValid() {
		return errors.New("invalid statement family kind: " + string(b))
	}
	*t = k
	return nil
}

// CarriesForward reports whether a period's opening balances come from the prior closing.
func (t FamilyKind) CarriesForward() bool {
	return t == FamilyKindBalance
}

type SubmissionStatus string

const (
	SubmissionStatusSubmitted SubmissionStatus = "submitted"
	SubmissionStatusPending   SubmissionStatus = "pending"
)

// AggregateMode tags a memoized sum so running balances and yearly sums never collide.
type AggregateMode string

const (
	AggregateModeYearToDate     AggregateMode = "ytd"
	AggregateModeRunningBalance AggregateMode = "running"
)
