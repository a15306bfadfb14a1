package notice

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/donor"
	"github.com/bloodbridge/platform/internal/notification"
	"github.com/bloodbridge/platform/internal/shared/events"
	"github.com/bloodbridge/platform/internal/shared/types"
)

const eventSource = "notices"

// DonorLister finds the donors a notice is sent to.
type DonorLister interface {
	ListByBloodGroup(ctx context.Context, bg types.BloodGroup) ([]donor.Donor, error)
}

// Service creates notices and sends them to donors.
type Service struct {
	store     Store
	donors    DonorLister
	sender    notification.Sender
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a notice service. sender and publisher may be nil.
func NewService(store Store, donors DonorLister, sender notification.Sender, publisher events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		donors:    donors,
		sender:    sender,
		publisher: publisher,
		logger:    logger.Named("notices"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Publish stores a notice for hospitalID and texts every donor in its
// audience. Failed sends are logged and not counted.
func (s *Service) Publish(ctx context.Context, hospitalID types.ID, d Draft) (*Notice, error) {
	n, err := New(hospitalID, d, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}

	n.Recipients = s.fanOut(ctx, n)
	if err := s.store.SetRecipients(ctx, n.ID, n.Recipients); err != nil {
		s.logger.Warn("failed to record notice recipients", zap.String("notice_id", n.ID.String()), zap.Error(err))
	}

	s.logger.Info("notice published",
		zap.String("notice_id", n.ID.String()),
		zap.String("hospital_id", hospitalID.String()),
		zap.Int("recipients", n.Recipients),
	)
	if s.publisher != nil {
		event := events.NewEvent(events.TypeNoticePublished, eventSource, n).WithActor(hospitalID, "admin")
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish event", zap.String("type", event.Type), zap.Error(err))
		}
	}
	return n, nil
}

func (s *Service) fanOut(ctx context.Context, n *Notice) int {
	if s.sender == nil || s.donors == nil {
		return 0
	}

	sent := 0
	seen := map[types.ID]bool{}
	for _, bg := range n.Audience() {
		donors, err := s.donors.ListByBloodGroup(ctx, bg)
		if err != nil {
			s.logger.Warn("failed to list donors for notice", zap.String("blood_group", bg.String()), zap.Error(err))
			continue
		}
		for _, d := range donors {
			if seen[d.ID] || d.Phone == "" {
				continue
			}
			seen[d.ID] = true
			msg := notification.Message{Channel: notification.ChannelSMS, RecipientID: d.ID, Phone: d.Phone, Body: n.Text()}
			if err := s.sender.Dispatch(msg); err != nil {
				s.logger.Warn("failed to queue notice", zap.String("donor_id", d.ID.String()), zap.Error(err))
				continue
			}
			sent++
		}
	}
	return sent
}

// Own lists the hospital's notices.
func (s *Service) Own(ctx context.Context, hospitalID types.ID) ([]Notice, error) {
	return s.store.ListByHospital(ctx, hospitalID)
}

// Active lists notices visible to donors.
func (s *Service) Active(ctx context.Context, limit int) ([]Notice, error) {
	return s.store.ListActive(ctx, limit)
}

// SetStatus switches a hospital's notice on or off.
func (s *Service) SetStatus(ctx context.Context, id, hospitalID types.ID, status Status) error {
	if err := s.store.SetStatus(ctx, id, hospitalID, status, s.now()); err != nil {
		return err
	}
	s.logger.Info("notice status changed", zap.String("notice_id", id.String()), zap.String("status", string(status)))
	return nil
}

// Remove deletes a hospital's notice.
func (s *Service) Remove(ctx context.Context, id, hospitalID types.ID) error {
	if err := s.store.Delete(ctx, id, hospitalID); err != nil {
		return err
	}
	s.logger.Info("notice deleted", zap.String("notice_id", id.String()))
	return nil
}
