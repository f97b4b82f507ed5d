package signing

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/contractvault/internal/logging"
	"github.com/dmitrijs2005/contractvault/internal/server/config"
	"github.com/dmitrijs2005/contractvault/internal/server/metrics"
	"github.com/dmitrijs2005/contractvault/internal/server/models"
	"github.com/dmitrijs2005/contractvault/internal/server/repositories/repomanager"
)

const validCode = "123456"

type fakeOTP struct {
	mu       sync.Mutex
	sent     []string
	verifies atomic.Int32
	err      error
}

func (f *fakeOTP) Send(_ context.Context, contact string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, contact)
	return f.err
}

func (f *fakeOTP) Verify(_ context.Context, contact, code string) (bool, error) {
	f.verifies.Add(1)
	if f.err != nil {
		return false, f.err
	}
	return code == validCode, nil
}

type fakeArchiver struct {
	calls atomic.Int32
	err   error
}

func (f *fakeArchiver) Archive(_ context.Context, c *models.Contract) (*models.AuditRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &models.AuditRecord{Disk: config.DiskWORM, Path: "archive/" + c.ID + "/x.enc", ArchivedAt: time.Now().UTC()}, nil
}

type fixture struct {
	svc      *Service
	rm       *repomanager.InMemoryRepositoryManager
	mock     sqlmock.Sqlmock
	otp      *fakeOTP
	archiver *fakeArchiver
	metrics  *metrics.Metrics
	clock    time.Time
}

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 123456789, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		rm:       repomanager.NewInMemoryRepositoryManager(),
		mock:     mock,
		otp:      &fakeOTP{},
		archiver: &fakeArchiver{},
		metrics:  metrics.New(prometheus.NewRegistry()),
		clock:    t0,
	}
	cfg := &config.Config{RetractionWindow: 48 * time.Hour}
	f.svc = NewService(db, f.rm, f.otp, f.archiver, cfg, logging.Nop(), f.metrics)
	f.svc.now = func() time.Time { return f.clock }

	f.rm.ContractsRepo.Put(&models.Contract{
		ID:           "c-1",
		Reference:    "CTR-2026-000001",
		Owner:        models.Signatory{UserID: "u-owner", Name: "Olivia Owner", Contact: "+33600000001"},
		Tenant:       models.Signatory{UserID: "u-tenant", Name: "Tom Tenant", Contact: "+33600000002"},
		DocumentHash: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		DocumentDisk: config.DiskPrimary,
		DocumentPath: "contracts/2026/06/c-1/x.enc",
		Status:       models.StatusAwaitingSignature,
	})
	return f
}

func (f *fixture) expectTx(commit bool) {
	f.mock.ExpectBegin()
	if commit {
		f.mock.ExpectCommit()
	} else {
		f.mock.ExpectRollback()
	}
}

func (f *fixture) sign(t *testing.T, signer, code string) (*models.Contract, error) {
	t.Helper()
	return f.svc.VerifyAndSign(context.Background(), SignRequest{
		ContractID: "c-1", SignerID: signer, Code: code, IP: "10.0.0.7", UserAgent: "test-agent",
	})
}

func (f *fixture) stored(t *testing.T) *models.Contract {
	t.Helper()
	c, err := f.rm.ContractsRepo.GetByID(context.Background(), "c-1")
	require.NoError(t, err)
	return c
}

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestVerifyAndSign_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.expectTx(true)
	f.expectTx(true)

	c, err := f.sign(t, "u-owner", validCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartiallySigned, c.Status)
	assert.False(t, c.IsLocked)
	assert.Regexp(t, hex64, c.OwnerSignature.Payload)
	assert.Equal(t, int32(0), f.archiver.calls.Load())

	f.clock = t0.Add(time.Hour)
	c, err = f.sign(t, "u-tenant", validCode)
	require.NoError(t, err)

	assert.True(t, c.IsLocked)
	assert.Regexp(t, hex64, c.CompositeSeal)
	assert.Equal(t, t0.Add(49*time.Hour).Truncate(time.Microsecond), c.RetractionDeadline)
	assert.Equal(t, models.StatusArchived, c.Status)
	assert.Equal(t, int32(1), f.archiver.calls.Load())

	s := f.stored(t)
	assert.Equal(t, models.StatusSigned, s.Status)
	assert.Equal(t, c.CompositeSeal, s.CompositeSeal)
	assert.True(t, VerifySeal(s))
	for _, p := range models.Parties {
		ok, err := VerifySignatureIntegrity(s, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Signatures.WithLabelValues("ok")))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// timestamptz keeps microseconds; reloaded contracts must still verify.
func TestVerifyAndSign_DigestsSurviveDatabasePrecision(t *testing.T) {
	f := newFixture(t)
	f.expectTx(true)
	f.expectTx(true)

	_, err := f.sign(t, "u-owner", validCode)
	require.NoError(t, err)
	f.clock = t0.Add(time.Hour + 987*time.Nanosecond)
	_, err = f.sign(t, "u-tenant", validCode)
	require.NoError(t, err)

	s := f.stored(t)
	s.OwnerSignature.SignedAt = s.OwnerSignature.SignedAt.Round(time.Microsecond)
	s.TenantSignature.SignedAt = s.TenantSignature.SignedAt.Round(time.Microsecond)
	assert.Zero(t, s.OwnerSignature.SignedAt.Nanosecond()%1000)

	for _, p := range models.Parties {
		ok, err := VerifySignatureIntegrity(s, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}
	assert.True(t, VerifySeal(s))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestVerifyAndSign_NotAPartyMutatesNothing(t *testing.T) {
	f := newFixture(t)
	before := f.stored(t)

	_, err := f.sign(t, "u-stranger", validCode)
	require.ErrorIs(t, err, ErrNotAParty)

	assert.Equal(t, before, f.stored(t))
	assert.Equal(t, int32(0), f.otp.verifies.Load())
	require.NoError(t, f.mock.ExpectationsWereMet(), "no transaction may be opened")
}

func TestVerifyAndSign_InvalidCodeMutatesNothing(t *testing.T) {
	f := newFixture(t)
	before := f.stored(t)

	_, err := f.sign(t, "u-owner", "000000")
	require.ErrorIs(t, err, ErrInvalidCode)

	assert.Equal(t, before, f.stored(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Signatures.WithLabelValues("invalid_code")))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestVerifyAndSign_OTPGatewayError(t *testing.T) {
	f := newFixture(t)
	f.otp.err = errors.New("gateway timeout")

	_, err := f.sign(t, "u-owner", validCode)
	require.ErrorContains(t, err, "otp verify: gateway timeout")
	assert.False(t, f.stored(t).OwnerSignature.Signed())
}

func TestVerifyAndSign_AlreadySigned(t *testing.T) {
	f := newFixture(t)
	f.expectTx(true)

	first, err := f.sign(t, "u-owner", validCode)
	require.NoError(t, err)

	f.clock = t0.Add(time.Minute)
	_, err = f.sign(t, "u-owner", validCode)
	require.ErrorIs(t, err, ErrAlreadySigned)

	assert.Equal(t, first.OwnerSignature, f.stored(t).OwnerSignature)
}

// Losers may be turned away before or inside a transaction, so the mock
// is given enough of both and only outcomes are asserted.
func expectRacingTx(f *fixture, n int) {
	for i := 0; i < n; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()
	}
	f.mock.ExpectCommit()
	f.mock.ExpectCommit()
}

func race(n int, fn func(i int) error) (ok, rejected, other int32) {
	var (
		wg                sync.WaitGroup
		nOK, nRej, nOther atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := fn(i)
			switch {
			case err == nil:
				nOK.Add(1)
			case errors.Is(err, ErrAlreadySigned):
				nRej.Add(1)
			default:
				nOther.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	return nOK.Load(), nRej.Load(), nOther.Load()
}

func TestVerifyAndSign_ConcurrentSamePartyExactlyOnce(t *testing.T) {
	f := newFixture(t)
	const n = 8
	expectRacingTx(f, n)

	ok, rejected, other := race(n, func(int) error {
		_, err := f.svc.VerifyAndSign(context.Background(), SignRequest{
			ContractID: "c-1", SignerID: "u-tenant", Code: validCode,
		})
		return err
	})

	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(n-1), rejected)
	assert.Equal(t, int32(0), other)

	s := f.stored(t)
	assert.True(t, s.TenantSignature.Signed())
	assert.False(t, s.OwnerSignature.Signed())
	assert.Equal(t, models.StatusPartiallySigned, s.Status)
}

func TestVerifyAndSign_ConcurrentBothPartiesLockOnce(t *testing.T) {
	f := newFixture(t)
	expectRacingTx(f, 2)

	signers := []string{"u-owner", "u-tenant"}
	ok, _, other := race(2, func(i int) error {
		_, err := f.svc.VerifyAndSign(context.Background(), SignRequest{
			ContractID: "c-1", SignerID: signers[i], Code: validCode,
		})
		return err
	})

	assert.Equal(t, int32(2), ok)
	assert.Equal(t, int32(0), other)
	assert.Equal(t, int32(1), f.archiver.calls.Load())

	s := f.stored(t)
	assert.True(t, s.IsLocked)
	assert.True(t, VerifySeal(s))
}

func TestVerifyAndSign_ArchivalFailureKeepsSignature(t *testing.T) {
	f := newFixture(t)
	f.archiver.err = errors.New("worm bucket unreachable")
	f.expectTx(true)
	f.expectTx(true)

	_, err := f.sign(t, "u-owner", validCode)
	require.NoError(t, err)
	c, err := f.sign(t, "u-tenant", validCode)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSigned, c.Status)
	assert.True(t, c.IsLocked)
	assert.False(t, c.Archived())

	s := f.stored(t)
	assert.Equal(t, models.StatusSigned, s.Status)
	assert.NotEmpty(t, s.CompositeSeal)
}

func TestVerifyAndSign_ClosedContracts(t *testing.T) {
	tests := []struct {
		name   string
		status models.Status
		want   error
	}{
		{"draft", models.StatusDraft, ErrNotSealed},
		{"cancelled", models.StatusCancelled, ErrContractClosed},
		{"archived", models.StatusArchived, ErrContractClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.stored(t)
			c.Status = tt.status
			f.rm.ContractsRepo.Put(c)

			_, err := f.sign(t, "u-owner", validCode)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(0), f.otp.verifies.Load())
		})
	}
}

func TestNewService_RetractionWindowFloor(t *testing.T) {
	short := NewService(nil, nil, nil, nil, &config.Config{RetractionWindow: time.Hour}, logging.Nop(), nil)
	assert.Equal(t, models.RetractionWindow, short.window)

	long := NewService(nil, nil, nil, nil, &config.Config{RetractionWindow: 72 * time.Hour}, logging.Nop(), nil)
	assert.Equal(t, 72*time.Hour, long.window)
}

func TestRetractionWindowBoundaries(t *testing.T) {
	f := newFixture(t)
	f.expectTx(true)
	f.expectTx(true)

	_, err := f.sign(t, "u-owner", validCode)
	require.NoError(t, err)
	assert.False(t, IsWithinRetractionPeriod(f.stored(t), t0), "undefined before both signatures")

	f.clock = t0.Add(time.Hour)
	_, err = f.sign(t, "u-tenant", validCode)
	require.NoError(t, err)
	c := f.stored(t)

	last := t0.Add(time.Hour)
	assert.True(t, IsWithinRetractionPeriod(c, last))
	assert.True(t, IsWithinRetractionPeriod(c, last.Add(24*time.Hour)))
	assert.True(t, IsWithinRetractionPeriod(c, last.Add(48*time.Hour-time.Nanosecond)))
	assert.False(t, IsWithinRetractionPeriod(c, last.Add(48*time.Hour)))
	assert.False(t, IsWithinRetractionPeriod(c, last.Add(72*time.Hour)))

	f.clock = last.Add(47 * time.Hour)
	assert.True(t, f.svc.IsWithinRetractionPeriod(c))
}

func TestLockContract(t *testing.T) {
	f := newFixture(t)

	partial := f.stored(t)
	partial.SetSignature(models.PartyOwner, models.Signature{SignedAt: t0, Payload: "p1"})
	snapshot := *partial

	_, err := f.svc.LockContract(partial)
	require.ErrorIs(t, err, ErrNotFullySigned)
	assert.Equal(t, snapshot, *partial, "nothing mutated")

	partial.SetSignature(models.PartyTenant, models.Signature{SignedAt: t0.Add(2 * time.Hour), Payload: "p2"})
	seal, err := f.svc.LockContract(partial)
	require.NoError(t, err)
	assert.Regexp(t, hex64, seal)
	assert.Equal(t, models.StatusSigned, partial.Status)
	assert.Equal(t, t0.Add(50*time.Hour), partial.RetractionDeadline)

	again, err := f.svc.LockContract(partial)
	require.NoError(t, err)
	assert.Equal(t, seal, again)
}

func TestVerifySignatureIntegrity_DetectsAlteration(t *testing.T) {
	f := newFixture(t)
	f.expectTx(true)
	_, err := f.sign(t, "u-owner", validCode)
	require.NoError(t, err)
	c := f.stored(t)

	ok, err := VerifySignatureIntegrity(c, models.PartyOwner)
	require.NoError(t, err)
	assert.True(t, ok)

	c.OwnerSignature.SignerIP = "192.168.1.1"
	ok, err = VerifySignatureIntegrity(c, models.PartyOwner)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifySignatureIntegrity(c, models.PartyTenant)
	require.ErrorIs(t, err, ErrNotSigned)
	_, err = VerifySignatureIntegrity(c, models.Party("witness"))
	require.ErrorIs(t, err, ErrNotAParty)
}

func TestRequestSignature(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.RequestSignature(context.Background(), "c-1", "u-tenant"))
	assert.Equal(t, []string{"+33600000002"}, f.otp.sent)

	err := f.svc.RequestSignature(context.Background(), "c-1", "u-stranger")
	require.ErrorIs(t, err, ErrNotAParty)
	assert.Len(t, f.otp.sent, 1)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Cancel(context.Background(), "c-1", "u-stranger")
	require.ErrorIs(t, err, ErrNotAParty)

	c, err := f.svc.Cancel(context.Background(), "c-1", "u-tenant")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, c.Status)
	assert.Equal(t, models.StatusCancelled, f.stored(t).Status)

	_, err = f.svc.Cancel(context.Background(), "c-1", "u-owner")
	require.ErrorIs(t, err, ErrContractClosed)
}

func TestCancel_RefusedOnceSigned(t *testing.T) {
	f := newFixture(t)
	f.expectTx(true)
	f.expectTx(true)
	_, err := f.sign(t, "u-owner", validCode)
	require.NoError(t, err)
	_, err = f.sign(t, "u-tenant", validCode)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), "c-1", "u-owner")
	require.ErrorIs(t, err, ErrContractClosed)
}
