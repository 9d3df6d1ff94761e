package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waitwise/clinic-queue/internal/config"
	"github.com/waitwise/clinic-queue/internal/metrics"
	"github.com/waitwise/clinic-queue/internal/notify"
	redisclient "github.com/waitwise/clinic-queue/internal/redis"
)

// fakeRepo is an in-memory Repository. WithTx runs fn against the same state;
// transactional rollback is not simulated, service tests only exercise
// committed paths.
type fakeRepo struct {
	users   map[uuid.UUID]*User
	clinics map[uuid.UUID]*Clinic
	queues  map[uuid.UUID][]uuid.UUID
	appts   map[uuid.UUID]*Appointment
	events  []EventLog

	clock time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:   make(map[uuid.UUID]*User),
		clinics: make(map[uuid.UUID]*Clinic),
		queues:  make(map[uuid.UUID][]uuid.UUID),
		appts:   make(map[uuid.UUID]*Appointment),
		clock:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRepo) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeRepo) addUser(name string) *User {
	u := &User{
		ID:     uuid.New(),
		Name:   name,
		Email:  fmt.Sprintf("%s@example.com", uuid.NewString()[:8]),
		Phone:  "+15550001111",
		IDType: IDTypeHealthcard,
	}
	f.users[u.ID] = u
	return u
}

func (f *fakeRepo) addClinic(name string) *Clinic {
	c := &Clinic{ID: uuid.New(), Name: name, Address: "1 Test Way", Capacity: 10}
	f.clinics[c.ID] = c
	return c
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	return fn(f)
}

func (f *fakeRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeRepo) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (f *fakeRepo) CreateUser(ctx context.Context, name, email, phone string, idType IDType) (*User, error) {
	u := &User{ID: uuid.New(), Name: name, Email: email, Phone: phone, IDType: idType, CreatedAt: f.tick()}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeRepo) SetUserUrgency(ctx context.Context, id uuid.UUID, urgency string) error {
	u, ok := f.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.UrgencyLevel = &urgency
	return nil
}

func (f *fakeRepo) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	c, ok := f.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	return c, nil
}

func (f *fakeRepo) ListClinics(ctx context.Context) ([]Clinic, error) {
	var result []Clinic
	for _, c := range f.clinics {
		result = append(result, *c)
	}
	return result, nil
}

func (f *fakeRepo) AppendQueueEntry(ctx context.Context, clinicID, userID uuid.UUID) (int, error) {
	f.queues[clinicID] = append(f.queues[clinicID], userID)
	return len(f.queues[clinicID]), nil
}

func (f *fakeRepo) RemoveQueueEntries(ctx context.Context, clinicID, userID uuid.UUID) error {
	var kept []uuid.UUID
	for _, id := range f.queues[clinicID] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	f.queues[clinicID] = kept
	return nil
}

func (f *fakeRepo) PopQueueHead(ctx context.Context, clinicID uuid.UUID) (uuid.UUID, error) {
	q := f.queues[clinicID]
	if len(q) == 0 {
		return uuid.Nil, ErrQueueEmpty
	}
	head := q[0]
	f.queues[clinicID] = q[1:]
	return head, nil
}

func (f *fakeRepo) QueueHead(ctx context.Context, clinicID uuid.UUID) (uuid.UUID, error) {
	q := f.queues[clinicID]
	if len(q) == 0 {
		return uuid.Nil, ErrQueueEmpty
	}
	return q[0], nil
}

func (f *fakeRepo) QueueUserIDs(ctx context.Context, clinicID uuid.UUID) ([]uuid.UUID, error) {
	return append([]uuid.UUID(nil), f.queues[clinicID]...), nil
}

func (f *fakeRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a, nil
}

func (f *fakeRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := f.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	user, err := f.GetUserByID(ctx, a.UserID)
	if err != nil {
		return nil, err
	}
	clinic, err := f.GetClinicByID(ctx, a.ClinicID)
	if err != nil {
		return nil, err
	}
	return &AppointmentDetail{Appointment: *a, User: user, Clinic: clinic}, nil
}

func (f *fakeRepo) CreateQueuedAppointment(ctx context.Context, userID, clinicID uuid.UUID, position int) (*Appointment, error) {
	a := &Appointment{
		ID:        uuid.New(),
		UserID:    userID,
		ClinicID:  clinicID,
		Status:    StatusQueued,
		Position:  position,
		CreatedAt: f.tick(),
	}
	f.appts[a.ID] = a
	return a, nil
}

func (f *fakeRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	a, ok := f.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = f.tick()
	return a, nil
}

func (f *fakeRepo) MarkNotified(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := f.UpdateAppointmentStatus(ctx, id, StatusQueued, StatusNotified)
	if err != nil {
		return nil, err
	}
	now := f.clock
	a.NotifiedAt = &now
	return a, nil
}

func (f *fakeRepo) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := f.appts[id]
	if !ok || a.Status == StatusCancelled {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCancelled
	a.UpdatedAt = f.tick()
	return a, nil
}

func (f *fakeRepo) OldestQueuedAppointment(ctx context.Context, userID, clinicID uuid.UUID) (*Appointment, error) {
	var oldest *Appointment
	for _, a := range f.appts {
		if a.UserID != userID || a.ClinicID != clinicID || a.Status != StatusQueued {
			continue
		}
		if oldest == nil || a.CreatedAt.Before(oldest.CreatedAt) {
			oldest = a
		}
	}
	if oldest == nil {
		return nil, ErrAppointmentNotFound
	}
	return oldest, nil
}

func (f *fakeRepo) FindStaleNotified(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	var result []Appointment
	for _, a := range f.appts {
		if a.Status == StatusNotified && a.NotifiedAt != nil && a.NotifiedAt.Before(cutoff) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (f *fakeRepo) InsertEvent(ctx context.Context, ev EventLog) error {
	f.events = append(f.events, ev)
	return nil
}

// fakeLocker runs the critical section inline.
type fakeLocker struct{}

func (fakeLocker) WithClinicLock(ctx context.Context, clinicID uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// busyLocker always reports contention.
type busyLocker struct{}

func (busyLocker) WithClinicLock(ctx context.Context, clinicID uuid.UUID, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type sentMessage struct {
	recipient string
	message   string
}

// recordingNotifier captures messages instead of delivering them.
type recordingNotifier struct {
	sms    []sentMessage
	emails []sentMessage
}

func (n *recordingNotifier) SendSMS(ctx context.Context, phone, message string) (notify.DeliveryReceipt, error) {
	n.sms = append(n.sms, sentMessage{recipient: phone, message: message})
	return notify.DeliveryReceipt{Recipient: phone, Channel: "sms", Message: message}, nil
}

func (n *recordingNotifier) SendEmail(ctx context.Context, address, subject, body string) (notify.DeliveryReceipt, error) {
	n.emails = append(n.emails, sentMessage{recipient: address, message: subject})
	return notify.DeliveryReceipt{Recipient: address, Channel: "email", Message: subject}, nil
}

func newTestService(repo *fakeRepo) (*Service, *recordingNotifier) {
	notifier := &recordingNotifier{}
	m := metrics.NewQueueMetrics(prometheus.NewRegistry())
	cfg := config.Config{ConfirmWindow: 5 * time.Minute}
	return NewService(repo, fakeLocker{}, notifier, m, cfg), notifier
}

func TestBookAssignsSequentialPositions(t *testing.T) {
	repo := newFakeRepo()
	svc, notifier := newTestService(repo)

	clinic := repo.addClinic("Downtown Health Hub")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		user := repo.addUser(fmt.Sprintf("patient %d", i))
		appt, err := svc.Book(ctx, user.ID, clinic.ID)
		require.NoError(t, err)
		assert.Equal(t, i, appt.Position)
		assert.Equal(t, StatusQueued, appt.Status)
	}

	require.Len(t, notifier.sms, 3)
	assert.Contains(t, notifier.sms[0].message, "#1 in line for Downtown Health Hub")
	assert.Contains(t, notifier.sms[2].message, "#3")
	assert.Len(t, repo.queues[clinic.ID], 3)
}

func TestBookUnknownUserOrClinic(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	clinic := repo.addClinic("Lakeside Walk-In")
	user := repo.addUser("known")
	ctx := context.Background()

	_, err := svc.Book(ctx, uuid.New(), clinic.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.Book(ctx, user.ID, uuid.New())
	assert.ErrorIs(t, err, ErrClinicNotFound)
}

func TestBookDuplicateCreatesSecondEntry(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	clinic := repo.addClinic("Uptown Care Clinic")
	user := repo.addUser("repeat visitor")
	ctx := context.Background()

	first, err := svc.Book(ctx, user.ID, clinic.ID)
	require.NoError(t, err)
	second, err := svc.Book(ctx, user.ID, clinic.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Position)
	assert.Equal(t, 2, second.Position)
	assert.Len(t, repo.queues[clinic.ID], 2)
}

func TestCancelAlreadyCancelledConflicts(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	clinic := repo.addClinic("Downtown Health Hub")
	user := repo.addUser("patient")
	ctx := context.Background()

	appt, err := svc.Book(ctx, user.ID, clinic.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestCancelCascadeNotifiesNewHead(t *testing.T) {
	repo := newFakeRepo()
	svc, notifier := newTestService(repo)

	clinic := repo.addClinic("Downtown Health Hub")
	alice := repo.addUser("alice")
	bob := repo.addUser("bob")
	ctx := context.Background()

	apptA, err := svc.Book(ctx, alice.ID, clinic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, apptA.Position)

	apptB, err := svc.Book(ctx, bob.ID, clinic.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, apptB.Position)

	notifier.sms = nil

	cancelled, err := svc.Cancel(ctx, apptA.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// Alice is gone, Bob moved to the head and was notified exactly once.
	assert.Equal(t, []uuid.UUID{bob.ID}, repo.queues[clinic.ID])
	assert.Equal(t, StatusNotified, repo.appts[apptB.ID].Status)
	require.Len(t, notifier.sms, 1)
	assert.Equal(t, bob.Phone, notifier.sms[0].recipient)
	assert.Contains(t, notifier.sms[0].message, "A spot at Downtown Health Hub is now available")

	// Bob confirms; the queue drains.
	confirmed, err := svc.Confirm(ctx, apptB.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Empty(t, repo.queues[clinic.ID])
}

func TestNotifyNextEmptyQueue(t *testing.T) {
	repo := newFakeRepo()
	svc, notifier := newTestService(repo)

	clinic := repo.addClinic("Lakeside Walk-In")

	appt, err := svc.NotifyNext(context.Background(), clinic.ID)
	require.NoError(t, err)
	assert.Nil(t, appt)
	assert.Empty(t, notifier.sms)
}

func TestNotifyNextSelfHealsStaleEntries(t *testing.T) {
	repo := newFakeRepo()
	svc, notifier := newTestService(repo)

	clinic := repo.addClinic("Uptown Care Clinic")
	ghost := repo.addUser("ghost")
	bob := repo.addUser("bob")
	ctx := context.Background()

	// Ghost sits in the queue with no queued appointment behind it.
	repo.queues[clinic.ID] = append(repo.queues[clinic.ID], ghost.ID)

	apptB, err := svc.Book(ctx, bob.ID, clinic.ID)
	require.NoError(t, err)
	notifier.sms = nil
	require.Len(t, repo.queues[clinic.ID], 2)

	notified, err := svc.NotifyNext(ctx, clinic.ID)
	require.NoError(t, err)
	require.NotNil(t, notified)
	assert.Equal(t, apptB.ID, notified.ID)
	assert.Equal(t, StatusNotified, notified.Status)

	// The stale head was popped; Bob's entry remains until confirmation.
	assert.Equal(t, []uuid.UUID{bob.ID}, repo.queues[clinic.ID])
	require.Len(t, notifier.sms, 1)
}

func TestNotifyNextSelfHealsToEmpty(t *testing.T) {
	repo := newFakeRepo()
	svc, notifier := newTestService(repo)

	clinic := repo.addClinic("Downtown Health Hub")
	ghost1 := repo.addUser("ghost1")
	ghost2 := repo.addUser("ghost2")
	repo.queues[clinic.ID] = []uuid.UUID{ghost1.ID, ghost2.ID}

	appt, err := svc.NotifyNext(context.Background(), clinic.ID)
	require.NoError(t, err)
	assert.Nil(t, appt)
	assert.Empty(t, repo.queues[clinic.ID])
	assert.Empty(t, notifier.sms)
}

func TestNotifyNextPicksOldestQueuedForDuplicates(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	clinic := repo.addClinic("Downtown Health Hub")
	user := repo.addUser("repeat visitor")
	ctx := context.Background()

	first, err := svc.Book(ctx, user.ID, clinic.ID)
	require.NoError(t, err)
	second, err := svc.Book(ctx, user.ID, clinic.ID)
	require.NoError(t, err)

	notified, err := svc.NotifyNext(ctx, clinic.ID)
	require.NoError(t, err)
	require.NotNil(t, notified)
	assert.Equal(t, first.ID, notified.ID)
	assert.Equal(t, StatusQueued, repo.appts[second.ID].Status)
}

func TestConfirmRequiresNotified(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	clinic := repo.addClinic("Lakeside Walk-In")
	user := repo.addUser("patient")
	ctx := context.Background()

	appt, err := svc.Book(ctx, user.ID, clinic.ID)
	require.NoError(t, err)

	// Still queued
	_, err = svc.Confirm(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrNotNotified)

	// Cancelled
	_, err = svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrNotNotified)
}

func TestConfirmTwiceConflicts(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	clinic := repo.addClinic("Uptown Care Clinic")
	user := repo.addUser("patient")
	ctx := context.Background()

	appt, err := svc.Book(ctx, user.ID, clinic.ID)
	require.NoError(t, err)

	notified, err := svc.NotifyNext(ctx, clinic.ID)
	require.NoError(t, err)
	require.Equal(t, appt.ID, notified.ID)

	_, err = svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrNotNotified)
}

func TestConfirmRemovesUserBehindTheHead(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	clinic := repo.addClinic("Downtown Health Hub")
	alice := repo.addUser("alice")
	bob := repo.addUser("bob")
	ctx := context.Background()

	_, err := svc.Book(ctx, alice.ID, clinic.ID)
	require.NoError(t, err)
	apptB, err := svc.Book(ctx, bob.ID, clinic.ID)
	require.NoError(t, err)

	// Drifted state: Bob got notified while Alice still heads the queue.
	_, err = repo.MarkNotified(ctx, apptB.ID)
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, apptB.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Equal(t, []uuid.UUID{alice.ID}, repo.queues[clinic.ID])
}

func TestClinicBusyMapsLockContention(t *testing.T) {
	repo := newFakeRepo()
	notifier := &recordingNotifier{}
	m := metrics.NewQueueMetrics(prometheus.NewRegistry())
	svc := NewService(repo, busyLocker{}, notifier, m, config.Config{})

	clinic := repo.addClinic("Lakeside Walk-In")
	user := repo.addUser("patient")

	_, err := svc.Book(context.Background(), user.ID, clinic.ID)
	assert.ErrorIs(t, err, ErrClinicBusy)
	assert.Empty(t, notifier.sms)
}

func TestExpireNotifiedCancelsAndAdvances(t *testing.T) {
	repo := newFakeRepo()
	svc, notifier := newTestService(repo)

	clinic := repo.addClinic("Downtown Health Hub")
	alice := repo.addUser("alice")
	bob := repo.addUser("bob")
	ctx := context.Background()

	apptA, err := svc.Book(ctx, alice.ID, clinic.ID)
	require.NoError(t, err)
	apptB, err := svc.Book(ctx, bob.ID, clinic.ID)
	require.NoError(t, err)

	notified, err := svc.NotifyNext(ctx, clinic.ID)
	require.NoError(t, err)
	require.Equal(t, apptA.ID, notified.ID)

	// Push the notification timestamp past the confirmation window.
	expired := time.Now().Add(-10 * time.Minute)
	repo.appts[apptA.ID].NotifiedAt = &expired
	notifier.sms = nil

	require.NoError(t, svc.ExpireNotified(ctx))

	assert.Equal(t, StatusCancelled, repo.appts[apptA.ID].Status)
	assert.Equal(t, StatusNotified, repo.appts[apptB.ID].Status)
	require.Len(t, notifier.sms, 1)
	assert.Equal(t, bob.Phone, notifier.sms[0].recipient)
}

func TestRegisterUserValidation(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.RegisterUser(ctx, "pat", "pat@example.com", "+15550002222", "Passport")
	assert.ErrorIs(t, err, ErrInvalidIDType)

	user, err := svc.RegisterUser(ctx, "pat", "pat@example.com", "+15550002222", IDTypeGovID)
	require.NoError(t, err)
	assert.Equal(t, IDTypeGovID, user.IDType)

	_, err = svc.RegisterUser(ctx, "other", "pat@example.com", "+15550003333", IDTypeHealthcard)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRecordTriageUnknownUser(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	err := svc.RecordTriage(context.Background(), uuid.New(), "high")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestBookQueueEventsLogged(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	clinic := repo.addClinic("Uptown Care Clinic")
	user := repo.addUser("patient")
	ctx := context.Background()

	appt, err := svc.Book(ctx, user.ID, clinic.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)

	var types []string
	for _, ev := range repo.events {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{EventAppointmentQueued, EventAppointmentCancelled}, types)
}

func TestCancelPropagatesStoreErrors(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	_, err := svc.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.False(t, errors.Is(err, ErrAlreadyCancelled))
}
