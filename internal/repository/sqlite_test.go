package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroscan-portal/internal/domain"
	"github.com/neuroscan-portal/internal/logging"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "neuroscan.db"), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	store.now = func() time.Time { return time.Date(2024, 3, 15, 22, 30, 0, 0, time.UTC) }
	return store
}

func seedUsers(t *testing.T, store domain.UserStore) (doctor, patient *domain.User) {
	t.Helper()
	ctx := context.Background()

	doctor = &domain.User{Profile: domain.Profile{
		Name: "Gregory", Surname: "House", Email: "house@clinic.org", EMBG: "1111111111111", Role: domain.RoleDoctor,
	}, PasswordHash: "x"}
	patient = &domain.User{Profile: domain.Profile{
		Name: "Ana", Surname: "Petrova", Email: "ana@mail.com", EMBG: "0101990450001", Role: domain.RolePatient,
	}, PasswordHash: "y"}

	require.NoError(t, store.CreateUser(ctx, doctor))
	require.NoError(t, store.CreateUser(ctx, patient))
	return doctor, patient
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "lite.db")

	store, err := NewSQLiteStore(dbPath, logging.NewNop())
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_Users(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	doctor, patient := seedUsers(t, store)

	assert.NotZero(t, doctor.ID)
	assert.NotEqual(t, doctor.ID, patient.ID)

	got, err := store.GetByEmail(ctx, "house@clinic.org")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleDoctor, got.Role)
	assert.Equal(t, "x", got.PasswordHash)

	got, err = store.GetByEMBG(ctx, "0101990450001")
	require.NoError(t, err)
	assert.Equal(t, "ana@mail.com", got.Email)

	_, err = store.GetByEmail(ctx, "nobody@mail.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_CreateUser_Duplicate(t *testing.T) {
	store := createTestStore(t)
	seedUsers(t, store)

	dup := &domain.User{Profile: domain.Profile{
		Name: "Other", Surname: "Person", Email: "ana@mail.com", EMBG: "2222222222222", Role: domain.RolePatient,
	}, PasswordHash: "z"}

	err := store.CreateUser(context.Background(), dup)
	assert.ErrorIs(t, err, domain.ErrDuplicateUser)
}

func TestSQLiteStore_CreateAndFetch(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	doctor, patient := seedUsers(t, store)

	rec, err := store.Create(ctx, domain.CreateRecordRequest{
		Confidence:     0.93,
		Classification: "glioma",
		ModelUsed:      "resnet",
		Notes:          "follow up in 3 months",
		PatientCode:    patient.EMBG,
		DoctorEmail:    doctor.Email,
		ScanKey:        "scans/2024-03-15/abc.png",
	})
	require.NoError(t, err)

	assert.NotZero(t, rec.ID)
	assert.Equal(t, "2024-03-15", rec.Date.Format("2006-01-02"))
	assert.Equal(t, 0.93, rec.Confidence)
	assert.Equal(t, "glioma", rec.Classification)
	assert.Equal(t, "resnet", rec.ModelUsed)
	assert.Equal(t, "scans/2024-03-15/abc.png", rec.ScanKey)
	assert.Equal(t, "Ana Petrova", rec.Patient.FullName())
	assert.Equal(t, domain.RolePatient, rec.Patient.Role)
	assert.Equal(t, "Gregory House", rec.Doctor.FullName())

	byDoctor, err := store.FetchByDoctor(ctx, doctor.Email)
	require.NoError(t, err)
	require.Len(t, byDoctor, 1)
	assert.Equal(t, rec.ID, byDoctor[0].ID)

	byPatient, err := store.FetchByPatient(ctx, patient.Email)
	require.NoError(t, err)
	require.Len(t, byPatient, 1)
	assert.Equal(t, *rec, byPatient[0])

	// A patient authored nothing
	none, err := store.FetchByDoctor(ctx, patient.Email)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestSQLiteStore_Create_UnknownParticipants(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	doctor, patient := seedUsers(t, store)

	_, err := store.Create(ctx, domain.CreateRecordRequest{
		Classification: "glioma", Notes: "n", PatientCode: "9999999999999", DoctorEmail: doctor.Email,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.Create(ctx, domain.CreateRecordRequest{
		Classification: "glioma", Notes: "n", PatientCode: patient.EMBG, DoctorEmail: "ghost@clinic.org",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_Create_ParticipantRoles(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	doctor, patient := seedUsers(t, store)

	_, err := store.Create(ctx, domain.CreateRecordRequest{
		Classification: "glioma", Notes: "n", PatientCode: doctor.EMBG, DoctorEmail: doctor.Email,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound, "a doctor's EMBG is not a patient")

	_, err = store.Create(ctx, domain.CreateRecordRequest{
		Classification: "glioma", Notes: "n", PatientCode: patient.EMBG, DoctorEmail: patient.Email,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound, "a patient cannot author a record")

	records, err := store.FetchByDoctor(ctx, doctor.Email)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLiteStore_FetchUnknownUser(t *testing.T) {
	store := createTestStore(t)

	_, err := store.FetchByPatient(context.Background(), "ghost@mail.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_GetByID_NotFound(t *testing.T) {
	store := createTestStore(t)

	_, err := store.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
