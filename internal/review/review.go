// Package review enforces the legal transitions of a participation's review status.
package review

import (
	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/model"
)

type Action string

const (
	// AIVerdict applies a scorer result.
	AIVerdict     Action = "ai_verdict"
	AdvertiserAsk Action = "advertiser_ask"
	InfluencerAsk Action = "influencer_ask"
	AdminApprove  Action = "admin_approve"
	AdminReject   Action = "admin_reject"
)

// Input is the participation state a transition is judged against.
type Input struct {
	Current        model.ReviewStatus
	RewardPaid     bool
	InReviewWindow bool
	AllTestsPassed bool
}

func FromParticipation(p *model.Participation, inWindow bool) Input {
	return Input{
		Current:        p.ReviewStatus,
		RewardPaid:     p.RewardPaid,
		InReviewWindow: inWindow,
		AllTestsPassed: p.AllTestsPassed(),
	}
}

// Transition returns the next status for action, or an error wrapping
// apperr.ErrInvalidStateTransition. It never returns the current status
// unchanged without an error.
func Transition(action Action, in Input) (model.ReviewStatus, error) {
	if !in.Current.Valid() {
		return "", apperr.InvalidTransition("unknown review status %q", in.Current)
	}

	switch action {
	case AIVerdict:
		if in.RewardPaid {
			return "", apperr.InvalidTransition("reward already paid")
		}
		if in.AllTestsPassed {
			return model.ReviewApproved, nil
		}
		return model.ReviewRejected, nil

	case AdvertiserAsk:
		if err := askAllowed(in, model.ReviewApproved, "advertiser"); err != nil {
			return "", err
		}
		return model.ReviewFromAdvertiser, nil

	case InfluencerAsk:
		if err := askAllowed(in, model.ReviewRejected, "influencer"); err != nil {
			return "", err
		}
		return model.ReviewFromInfluencer, nil

	case AdminApprove, AdminReject:
		if !IsDisputed(in.Current) {
			return "", apperr.InvalidTransition("%s is not awaiting review", in.Current)
		}
		if action == AdminApprove {
			return model.ReviewApproved, nil
		}
		return model.ReviewRejected, nil
	}

	return "", apperr.InvalidTransition("unknown action %q", action)
}

func askAllowed(in Input, from model.ReviewStatus, party string) error {
	if in.Current != from {
		return apperr.InvalidTransition("%s can only dispute %s submissions, current status is %s", party, from, in.Current)
	}
	if in.RewardPaid {
		return apperr.InvalidTransition("reward already paid")
	}
	if !in.InReviewWindow {
		return apperr.InvalidTransition("review period has ended")
	}
	return nil
}

// IsDisputed reports whether an administrator decision is pending.
func IsDisputed(s model.ReviewStatus) bool {
	return s == model.ReviewFromAdvertiser || s == model.ReviewFromInfluencer
}

func Allowed(action Action, in Input) bool {
	_, err := Transition(action, in)
	return err == nil
}
