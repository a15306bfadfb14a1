// Package memstore holds in-memory implementations of the persistence
// contracts. They honour the same conditional-update rules as the Postgres
// repositories and back the unit tests and the no-database development mode.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bloodbridge/platform/internal/donation"
	"github.com/bloodbridge/platform/internal/donor"
	"github.com/bloodbridge/platform/internal/hospital"
	"github.com/bloodbridge/platform/internal/notice"
	"github.com/bloodbridge/platform/internal/request/domain"
	apperrors "github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// Donors implements donor.Store.
type Donors struct {
	mu    sync.RWMutex
	byID  map[types.ID]*donor.Donor
	order []types.ID
}

// NewDonors creates an empty donor store
func NewDonors() *Donors {
	return &Donors{byID: map[types.ID]*donor.Donor{}}
}

func cloneDonor(d *donor.Donor) *donor.Donor {
	c := *d
	if d.Location != nil {
		loc := *d.Location
		if d.Location.Point != nil {
			p := *d.Location.Point
			loc.Point = &p
		}
		c.Location = &loc
	}
	if d.LastDonationDate != nil {
		t := *d.LastDonationDate
		c.LastDonationDate = &t
	}
	if d.CooldownEnd != nil {
		t := *d.CooldownEnd
		c.CooldownEnd = &t
	}
	return &c
}

// Create stores a donor; emails are unique case-insensitively
func (s *Donors) Create(_ context.Context, d *donor.Donor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if strings.EqualFold(existing.Email, d.Email) {
			return apperrors.Conflict("donor with this email already exists")
		}
	}
	s.byID[d.ID] = cloneDonor(d)
	s.order = append(s.order, d.ID)
	return nil
}

// Get returns a copy of the donor
func (s *Donors) Get(_ context.Context, id types.ID) (*donor.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, apperrors.NotFound("donor", id.String())
	}
	return cloneDonor(d), nil
}

// ListByBloodGroup returns donors of exactly bg in registration order
func (s *Donors) ListByBloodGroup(_ context.Context, bg types.BloodGroup) ([]donor.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []donor.Donor
	for _, id := range s.order {
		if d := s.byID[id]; d.BloodGroup == bg {
			out = append(out, *cloneDonor(d))
		}
	}
	return out, nil
}

// Update replaces a stored donor
func (s *Donors) Update(_ context.Context, d *donor.Donor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[d.ID]; !ok {
		return apperrors.NotFound("donor", d.ID.String())
	}
	s.byID[d.ID] = cloneDonor(d)
	return nil
}

// SetCooldown records a donation and the resulting cooldown end
func (s *Donors) SetCooldown(_ context.Context, id types.ID, lastDonation, cooldownEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return apperrors.NotFound("donor", id.String())
	}
	d.LastDonationDate = &lastDonation
	d.CooldownEnd = &cooldownEnd
	d.UpdatedAt = lastDonation
	return nil
}

// Hospitals implements hospital.Store.
type Hospitals struct {
	mu    sync.RWMutex
	byID  map[types.ID]*hospital.Hospital
	units map[types.ID]map[string]hospital.BloodUnit
}

// NewHospitals creates an empty hospital store
func NewHospitals() *Hospitals {
	return &Hospitals{
		byID:  map[types.ID]*hospital.Hospital{},
		units: map[types.ID]map[string]hospital.BloodUnit{},
	}
}

func cloneHospital(h *hospital.Hospital) *hospital.Hospital {
	c := *h
	if h.Location != nil {
		loc := *h.Location
		if h.Location.Point != nil {
			p := *h.Location.Point
			loc.Point = &p
		}
		c.Location = &loc
	}
	if h.Inventory != nil {
		c.Inventory = make(hospital.Inventory, len(h.Inventory))
		for k, v := range h.Inventory {
			c.Inventory[k] = v
		}
	}
	return &c
}

// Create stores a hospital; codes and emails are unique
func (s *Hospitals) Create(_ context.Context, h *hospital.Hospital) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.HospitalCode == h.HospitalCode || strings.EqualFold(existing.Email, h.Email) {
			return apperrors.Conflict("hospital with this code or email already exists")
		}
	}
	s.byID[h.ID] = cloneHospital(h)
	return nil
}

// Get returns a copy of the hospital
func (s *Hospitals) Get(_ context.Context, id types.ID) (*hospital.Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.byID[id]
	if !ok {
		return nil, apperrors.NotFound("hospital", id.String())
	}
	return cloneHospital(h), nil
}

// List returns all hospitals by name
func (s *Hospitals) List(_ context.Context) ([]hospital.Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]hospital.Hospital, 0, len(s.byID))
	for _, h := range s.byID {
		out = append(out, *cloneHospital(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetStatus changes the account status
func (s *Hospitals) SetStatus(_ context.Context, id types.ID, status hospital.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.byID[id]
	if !ok {
		return apperrors.NotFound("hospital", id.String())
	}
	h.Status = status
	h.UpdatedAt = at
	return nil
}

// SetInventory replaces the inventory counts
func (s *Hospitals) SetInventory(_ context.Context, id types.ID, inv hospital.Inventory, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.byID[id]
	if !ok {
		return apperrors.NotFound("hospital", id.String())
	}
	h.Inventory = make(hospital.Inventory, len(inv))
	for k, v := range inv {
		h.Inventory[k] = v
	}
	h.UpdatedAt = at
	return nil
}

// AddUnit stores a unit; codes are unique per hospital
func (s *Hospitals) AddUnit(_ context.Context, u *hospital.BloodUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := s.units[u.HospitalID]
	if units == nil {
		units = map[string]hospital.BloodUnit{}
		s.units[u.HospitalID] = units
	}
	if _, exists := units[u.Code]; exists {
		return apperrors.Conflict("blood ID already exists")
	}
	units[u.Code] = *u
	return nil
}

// GetUnit returns one unit
func (s *Hospitals) GetUnit(_ context.Context, hospitalID types.ID, code string) (*hospital.BloodUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.units[hospitalID][code]
	if !ok {
		return nil, apperrors.NotFound("blood unit", code)
	}
	return &u, nil
}

// ListUnits returns a hospital's units, most recent entry first
func (s *Hospitals) ListUnits(_ context.Context, hospitalID types.ID) ([]hospital.BloodUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]hospital.BloodUnit, 0, len(s.units[hospitalID]))
	for _, u := range s.units[hospitalID] {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.After(out[j].EntryTime) })
	return out, nil
}

// UpdateUnit writes the unit's status fields
func (s *Hospitals) UpdateUnit(_ context.Context, u *hospital.BloodUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.units[u.HospitalID][u.Code]; !ok {
		return apperrors.NotFound("blood unit", u.Code)
	}
	s.units[u.HospitalID][u.Code] = *u
	return nil
}

// DeleteUnit removes a unit
func (s *Hospitals) DeleteUnit(_ context.Context, hospitalID types.ID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.units[hospitalID][code]; !ok {
		return apperrors.NotFound("blood unit", code)
	}
	delete(s.units[hospitalID], code)
	return nil
}

// Transfers implements hospital.TransferStore.
type Transfers struct {
	mu    sync.RWMutex
	byID  map[types.ID]hospital.Transfer
	order []types.ID
}

// NewTransfers creates an empty transfer store
func NewTransfers() *Transfers {
	return &Transfers{byID: map[types.ID]hospital.Transfer{}}
}

// CreateTransfer stores a new transfer
func (s *Transfers) CreateTransfer(_ context.Context, t *hospital.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[t.ID]; exists {
		return apperrors.Conflict("transfer already exists")
	}
	s.byID[t.ID] = *t
	s.order = append(s.order, t.ID)
	return nil
}

// GetTransfer returns a copy of the transfer
func (s *Transfers) GetTransfer(_ context.Context, id types.ID) (*hospital.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, apperrors.NotFound("transfer", id.String())
	}
	return &t, nil
}

// ListTransfers returns a hospital's transfers in one direction, newest first
func (s *Transfers) ListTransfers(_ context.Context, hospitalID types.ID, dir hospital.Direction) ([]hospital.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []hospital.Transfer{}
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.byID[s.order[i]]
		if (dir == hospital.Outgoing && t.FromHospitalID == hospitalID) ||
			(dir != hospital.Outgoing && t.ToHospitalID == hospitalID) {
			out = append(out, t)
		}
	}
	return out, nil
}

// AnswerTransfer writes the decision while the stored transfer is pending
func (s *Transfers) AnswerTransfer(_ context.Context, t *hospital.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[t.ID]
	if !ok || cur.Status != hospital.TransferPending || cur.ToHospitalID != t.ToHospitalID {
		return apperrors.NotFound("pending transfer", t.ID.String())
	}
	cur.Status = t.Status
	cur.ResponseMessage = t.ResponseMessage
	cur.RespondedAt = t.RespondedAt
	s.byID[t.ID] = cur
	return nil
}

// Notices implements notice.Store.
type Notices struct {
	mu    sync.RWMutex
	byID  map[types.ID]notice.Notice
	order []types.ID
}

// NewNotices creates an empty notice store
func NewNotices() *Notices {
	return &Notices{byID: map[types.ID]notice.Notice{}}
}

// Create stores a new notice
func (s *Notices) Create(_ context.Context, n *notice.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[n.ID]; exists {
		return apperrors.Conflict("notice already exists")
	}
	s.byID[n.ID] = *n
	s.order = append(s.order, n.ID)
	return nil
}

// Get returns a copy of the notice
func (s *Notices) Get(_ context.Context, id types.ID) (*notice.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.byID[id]
	if !ok {
		return nil, apperrors.NotFound("notice", id.String())
	}
	return &n, nil
}

func (s *Notices) newest(match func(notice.Notice) bool, limit int) []notice.Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []notice.Notice{}
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if n, ok := s.byID[s.order[i]]; ok && match(n) {
			out = append(out, n)
		}
	}
	return out
}

// ListByHospital returns a hospital's notices, newest first
func (s *Notices) ListByHospital(_ context.Context, hospitalID types.ID) ([]notice.Notice, error) {
	return s.newest(func(n notice.Notice) bool { return n.HospitalID == hospitalID }, 0), nil
}

// ListActive returns up to limit active notices, newest first
func (s *Notices) ListActive(_ context.Context, limit int) ([]notice.Notice, error) {
	return s.newest(func(n notice.Notice) bool { return n.Status == notice.StatusActive }, limit), nil
}

// SetStatus changes the status of a notice owned by hospitalID
func (s *Notices) SetStatus(_ context.Context, id, hospitalID types.ID, status notice.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[id]
	if !ok || n.HospitalID != hospitalID {
		return apperrors.NotFound("notice", id.String())
	}
	n.Status = status
	n.UpdatedAt = at
	s.byID[id] = n
	return nil
}

// SetRecipients records how many donors were notified
func (s *Notices) SetRecipients(_ context.Context, id types.ID, recipients int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[id]
	if !ok {
		return apperrors.NotFound("notice", id.String())
	}
	n.Recipients = recipients
	s.byID[id] = n
	return nil
}

// Delete removes a notice owned by hospitalID
func (s *Notices) Delete(_ context.Context, id, hospitalID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[id]
	if !ok || n.HospitalID != hospitalID {
		return apperrors.NotFound("notice", id.String())
	}
	delete(s.byID, id)
	return nil
}

// Donations implements donation.Store.
type Donations struct {
	mu        sync.RWMutex
	byRequest map[types.ID]donation.Record
}

// NewDonations creates an empty history store
func NewDonations() *Donations {
	return &Donations{byRequest: map[types.ID]donation.Record{}}
}

// Record stores r unless the request already has a donation
func (s *Donations) Record(_ context.Context, r *donation.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byRequest[r.RequestID]; exists {
		return false, nil
	}
	s.byRequest[r.RequestID] = *r
	return true, nil
}

// FindByRequest returns the donation recorded for a request
func (s *Donations) FindByRequest(_ context.Context, requestID types.ID) (*donation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byRequest[requestID]
	if !ok {
		return nil, apperrors.NotFound("donation", requestID.String())
	}
	return &r, nil
}

func (s *Donations) filtered(f donation.Filter) []donation.Record {
	var out []donation.Record
	for _, r := range s.byRequest {
		if f.HospitalID != nil && r.HospitalID != *f.HospitalID {
			continue
		}
		if f.DonorID != nil && r.DonorID != *f.DonorID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DonationDate.After(out[j].DonationDate) })
	return out
}

// List returns one page of matching donations and the total count
func (s *Donations) List(_ context.Context, f donation.Filter) ([]donation.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.filtered(f)
	total := len(all)
	if f.Offset >= total {
		return []donation.Record{}, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, total, nil
}

// Stats aggregates donations, optionally for one hospital
func (s *Donations) Stats(_ context.Context, hospitalID *types.ID, now time.Time) (*donation.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := donation.Summarize(s.filtered(donation.Filter{HospitalID: hospitalID}), now)
	return &stats, nil
}

type recordKey struct {
	requestID types.ID
	donorID   types.ID
}

// Requests implements domain.Repository.
type Requests struct {
	mu        sync.RWMutex
	requests  map[types.ID]domain.BloodRequest
	records   map[recordKey]domain.Record
	order     []recordKey
	forms     map[recordKey]domain.DonationForm
	formOrder []recordKey
}

// NewRequests creates an empty request store
func NewRequests() *Requests {
	return &Requests{
		requests: map[types.ID]domain.BloodRequest{},
		records:  map[recordKey]domain.Record{},
		forms:    map[recordKey]domain.DonationForm{},
	}
}

// CreateRequest stores a broadcast
func (s *Requests) CreateRequest(_ context.Context, req *domain.BloodRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.RequestID]; exists {
		return apperrors.Conflict("blood request already exists")
	}
	s.requests[req.RequestID] = *req
	return nil
}

// GetRequest returns a copy of the broadcast
func (s *Requests) GetRequest(_ context.Context, requestID types.ID) (*domain.BloodRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, apperrors.NotFound("blood request", requestID.String())
	}
	return &req, nil
}

// InsertPending stores p unless the donor already has a record for the
// request or a pending one from the same hospital for the same group
func (s *Requests) InsertPending(_ context.Context, p domain.Pending) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{p.RequestID, p.DonorID}
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	if !p.HospitalID.IsZero() {
		for _, rec := range s.records {
			h := rec.Head()
			if rec.Status() == domain.StatusPending && h.HospitalID == p.HospitalID &&
				h.DonorID == p.DonorID && h.BloodGroup == p.BloodGroup {
				return false, nil
			}
		}
	}
	s.records[key] = p
	s.order = append(s.order, key)
	return true, nil
}

// Put stores rec as-is. For seeding tests with records in any state.
func (s *Requests) Put(rec domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := rec.Head()
	key := recordKey{h.RequestID, h.DonorID}
	if _, exists := s.records[key]; !exists {
		s.order = append(s.order, key)
	}
	s.records[key] = rec
}

// Get returns the donor's record for a request
func (s *Requests) Get(_ context.Context, requestID, donorID types.ID) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey{requestID, donorID}]
	if !ok {
		return nil, apperrors.NotFound("request", requestID.String())
	}
	return rec, nil
}

func (s *Requests) list(match func(domain.Header) bool) []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Record
	for _, key := range s.order {
		rec := s.records[key]
		if match(rec.Head()) {
			out = append(out, rec)
		}
	}
	return out
}

// ListByRequest returns a request's records in insertion order
func (s *Requests) ListByRequest(_ context.Context, requestID types.ID) ([]domain.Record, error) {
	return s.list(func(h domain.Header) bool { return h.RequestID == requestID }), nil
}

// ListByDonor returns a donor's records in insertion order
func (s *Requests) ListByDonor(_ context.Context, donorID types.ID) ([]domain.Record, error) {
	return s.list(func(h domain.Header) bool { return h.DonorID == donorID }), nil
}

// ListByHospital returns a hospital's records in insertion order
func (s *Requests) ListByHospital(_ context.Context, hospitalID types.ID) ([]domain.Record, error) {
	return s.list(func(h domain.Header) bool { return h.HospitalID == hospitalID }), nil
}

// SaveResponse writes r only while the record is pending
func (s *Requests) SaveResponse(_ context.Context, r domain.Responded) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{r.RequestID, r.DonorID}
	if _, ok := s.records[key].(domain.Pending); !ok {
		return apperrors.NotFound("pending request", r.RequestID.String())
	}
	s.records[key] = r
	return nil
}

// SaveSelection writes sel only for an accepted response on a request with
// no selection yet
func (s *Requests) SaveSelection(_ context.Context, sel domain.Selected) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{sel.RequestID, sel.DonorID}
	cur, ok := s.records[key].(domain.Responded)
	if !ok || !cur.Accepted() {
		return apperrors.NotFound("accepted response from donor", sel.DonorID.String())
	}
	for k, rec := range s.records {
		if k.requestID == sel.RequestID && rec.Status() == domain.StatusSelected {
			return apperrors.NotFound("unresolved request", sel.RequestID.String())
		}
	}
	s.records[key] = sel
	return nil
}

// SupersedeOthers rejects every other accepted response to the request
func (s *Requests) SupersedeOthers(_ context.Context, requestID, selectedDonorID types.ID, at time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.records {
		if key.requestID != requestID || key.donorID == selectedDonorID {
			continue
		}
		r, ok := rec.(domain.Responded)
		if !ok || !r.Accepted() {
			continue
		}
		rejected, err := r.Supersede(at, reason)
		if err != nil {
			return n, err
		}
		s.records[key] = rejected
		n++
	}
	return n, nil
}

// SetDeliveryStatus records the notification outcome on a record in any state
func (s *Requests) SetDeliveryStatus(_ context.Context, requestID, donorID types.ID, status domain.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{requestID, donorID}
	rec, ok := s.records[key]
	if !ok {
		return apperrors.NotFound("request", requestID.String())
	}
	switch r := rec.(type) {
	case domain.Pending:
		r.Delivery = status
		s.records[key] = r
	case domain.Responded:
		r.Delivery = status
		s.records[key] = r
	case domain.Selected:
		r.Delivery = status
		s.records[key] = r
	case domain.Rejected:
		r.Delivery = status
		s.records[key] = r
	}
	return nil
}

// SaveForm stores f while the donor's record is an accepted response
func (s *Requests) SaveForm(_ context.Context, f *domain.DonationForm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{f.RequestID, f.DonorID}
	if _, exists := s.forms[key]; exists {
		return apperrors.Conflict("form has already been submitted for this request")
	}
	r, ok := s.records[key].(domain.Responded)
	if !ok || !r.Accepted() {
		return apperrors.NotFound("accepted response from donor", f.DonorID.String())
	}
	s.forms[key] = *f
	s.formOrder = append(s.formOrder, key)
	return nil
}

// ListForms returns a request's forms in submission order
func (s *Requests) ListForms(_ context.Context, requestID types.ID) ([]domain.DonationForm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.DonationForm{}
	for _, key := range s.formOrder {
		if key.requestID == requestID {
			out = append(out, s.forms[key])
		}
	}
	return out, nil
}

// EngagedDonors returns donors of bg with a responded or selected record
func (s *Requests) EngagedDonors(_ context.Context, bg types.BloodGroup) (map[types.ID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := map[types.ID]bool{}
	for _, rec := range s.records {
		switch rec.Status() {
		case domain.StatusResponded, domain.StatusSelected:
			if h := rec.Head(); h.BloodGroup == bg {
				out[h.DonorID] = true
			}
		}
	}
	return out, nil
}

// LastNotified returns each donor's most recent record time
func (s *Requests) LastNotified(_ context.Context, donorIDs []types.ID) (map[types.ID]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[types.ID]bool, len(donorIDs))
	for _, id := range donorIDs {
		want[id] = true
	}

	out := map[types.ID]time.Time{}
	for _, rec := range s.records {
		h := rec.Head()
		if !want[h.DonorID] {
			continue
		}
		if last, ok := out[h.DonorID]; !ok || h.CreatedAt.After(last) {
			out[h.DonorID] = h.CreatedAt
		}
	}
	return out, nil
}
