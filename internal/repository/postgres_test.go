package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroscan-portal/internal/database/dbtest"
	"github.com/neuroscan-portal/internal/domain"
	"github.com/neuroscan-portal/internal/logging"
)

func TestPostgresRepositories(t *testing.T) {
	pg := dbtest.StartPostgres(t)
	ctx := context.Background()
	logger := logging.NewNop()

	users := NewUserRepository(pg.DB.Pool, logger)
	results := NewResultRepository(pg.DB.Pool, logger)
	results.now = func() time.Time { return time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC) }

	doctor, patient := seedUsers(t, users)

	t.Run("duplicate email rejected", func(t *testing.T) {
		dup := &domain.User{Profile: domain.Profile{
			Name: "X", Surname: "Y", Email: doctor.Email, EMBG: "3333333333333", Role: domain.RoleDoctor,
		}, PasswordHash: "h"}
		assert.ErrorIs(t, users.CreateUser(ctx, dup), domain.ErrDuplicateUser)
	})

	t.Run("lookup", func(t *testing.T) {
		got, err := users.GetByEMBG(ctx, patient.EMBG)
		require.NoError(t, err)
		assert.Equal(t, patient.ID, got.ID)
		assert.Equal(t, domain.RolePatient, got.Role)

		_, err = users.GetByEmail(ctx, "ghost@clinic.org")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("create and fetch", func(t *testing.T) {
		rec, err := results.Create(ctx, domain.CreateRecordRequest{
			Confidence:     0.5,
			Classification: "tumor",
			ModelUsed:      "vit",
			Notes:          "inference unavailable, manual review",
			PatientCode:    patient.EMBG,
			DoctorEmail:    doctor.Email,
		})
		require.NoError(t, err)
		assert.Equal(t, "2024-03-15", rec.Date.Format("2006-01-02"))
		assert.Equal(t, "Gregory House", rec.Doctor.FullName())
		assert.Equal(t, patient.EMBG, rec.Patient.EMBG)

		byDoctor, err := results.FetchByDoctor(ctx, doctor.Email)
		require.NoError(t, err)
		require.Len(t, byDoctor, 1)
		assert.Equal(t, rec.ID, byDoctor[0].ID)

		byPatient, err := results.FetchByPatient(ctx, patient.Email)
		require.NoError(t, err)
		require.Len(t, byPatient, 1)

		got, err := results.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "inference unavailable, manual review", got.Notes)
	})

	t.Run("unknown participants", func(t *testing.T) {
		_, err := results.Create(ctx, domain.CreateRecordRequest{
			Classification: "glioma", Notes: "n", PatientCode: "0000000000000", DoctorEmail: doctor.Email,
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = results.Create(ctx, domain.CreateRecordRequest{
			Classification: "glioma", Notes: "n", PatientCode: doctor.EMBG, DoctorEmail: doctor.Email,
		})
		assert.ErrorIs(t, err, domain.ErrNotFound, "a doctor's EMBG is not a patient")

		_, err = results.Create(ctx, domain.CreateRecordRequest{
			Classification: "glioma", Notes: "n", PatientCode: patient.EMBG, DoctorEmail: patient.Email,
		})
		assert.ErrorIs(t, err, domain.ErrNotFound, "a patient cannot author a record")

		_, err = results.FetchByDoctor(ctx, "ghost@clinic.org")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = results.GetByID(ctx, 999999)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
