package matching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/notification"
	"github.com/bloodbridge/platform/internal/request/domain"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

const deliveryWriteTimeout = 5 * time.Second

// DeliveryStore records the outcome of an alert on the donor's record.
type DeliveryStore interface {
	SetDeliveryStatus(ctx context.Context, requestID, donorID types.ID, status domain.DeliveryStatus) error
}

// AlertResult is a search plus the messages it queued.
type AlertResult struct {
	*Result
	Channel notification.Channel `json:"channel"`
	Queued  int                  `json:"messages_queued"`
	Errors  []string             `json:"errors,omitempty"`
}

// Alerter runs a search and alerts every newly notified candidate.
type Alerter struct {
	matcher   *Matcher
	hospitals HospitalSource
	sender    notification.Sender
	delivery  DeliveryStore
	logger    *zap.Logger
}

// NewAlerter creates an alerter.
func NewAlerter(matcher *Matcher, hospitals HospitalSource, sender notification.Sender, delivery DeliveryStore, logger *zap.Logger) *Alerter {
	return &Alerter{
		matcher:   matcher,
		hospitals: hospitals,
		sender:    sender,
		delivery:  delivery,
		logger:    logger.Named("alerter"),
	}
}

// Broadcast finds candidates for q and queues one message per new pending
// record. Donors who already had a pending record for the same hospital
// and blood group are not messaged again.
func (a *Alerter) Broadcast(ctx context.Context, q Query) (*AlertResult, error) {
	h, err := a.hospitals.Get(ctx, q.HospitalID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(h.Phone) == "" {
		return nil, errors.Validation("add a hospital contact phone before sending alerts",
			map[string]string{"phone": "required"})
	}

	res, err := a.matcher.FindCandidates(ctx, q)
	if err != nil {
		return nil, err
	}

	ch, _ := notification.ParseChannel(string(q.Channel))
	out := &AlertResult{Result: res, Channel: ch}

	for _, c := range res.Candidates {
		if !c.Notified {
			continue
		}
		if c.Phone == "" {
			out.Errors = append(out.Errors, fmt.Sprintf("no phone number for donor %s", c.DonorID))
			a.markFailed(ctx, res.RequestID, c.DonorID)
			continue
		}

		msg := notification.Message{
			Channel:     ch,
			RecipientID: c.DonorID,
			Phone:       c.Phone,
			Body:        alertBody(res, c),
			RequestID:   res.RequestID,
		}
		if ch == notification.ChannelVoice {
			msg.Call = &notification.CallContext{
				DonorName:     c.Name,
				BloodGroup:    res.BloodGroup.String(),
				HospitalName:  res.Hospital.Name,
				HospitalPhone: res.Hospital.Phone,
				Message:       msg.Body,
				RequestID:     res.RequestID,
				DonorID:       c.DonorID,
			}
		}

		if err := a.sender.Dispatch(msg); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("donor %s: %v", c.DonorID, err))
			a.markFailed(ctx, res.RequestID, c.DonorID)
			continue
		}
		out.Queued++
	}

	a.logger.Info("alerts queued",
		zap.String("request_id", res.RequestID.String()),
		zap.String("channel", string(ch)),
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("queued", out.Queued),
		zap.Int("errors", len(out.Errors)),
	)
	return out, nil
}

// RecordDelivery writes a dispatcher result back to the donor's record.
// Messages that do not belong to a broadcast are ignored.
func (a *Alerter) RecordDelivery(res notification.Result) {
	if res.Message.RequestID.IsZero() {
		return
	}
	status := domain.DeliverySent
	if !res.Delivered {
		status = domain.DeliveryFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryWriteTimeout)
	defer cancel()
	a.setStatus(ctx, res.Message.RequestID, res.Message.RecipientID, status)
}

func (a *Alerter) markFailed(ctx context.Context, requestID, donorID types.ID) {
	a.setStatus(ctx, requestID, donorID, domain.DeliveryFailed)
}

func (a *Alerter) setStatus(ctx context.Context, requestID, donorID types.ID, status domain.DeliveryStatus) {
	if a.delivery == nil {
		return
	}
	if err := a.delivery.SetDeliveryStatus(ctx, requestID, donorID, status); err != nil {
		a.logger.Warn("failed to record delivery status",
			zap.String("request_id", requestID.String()),
			zap.String("donor_id", donorID.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func alertBody(res *Result, c Candidate) string {
	address := "Address not available"
	if res.Hospital.Location != nil && res.Hospital.Location.Address != "" {
		address = res.Hospital.Location.Address
	}
	return fmt.Sprintf("Urgent blood request from %s. Blood group needed: %s. Distance: %.2f km. Address: %s. "+
		"Open your dashboard to respond, or call %s for details.",
		res.Hospital.Name, res.BloodGroup, c.DistanceKm, address, res.Hospital.Phone)
}
