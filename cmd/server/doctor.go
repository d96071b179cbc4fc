package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neuroscan-portal/internal/auth"
	"github.com/neuroscan-portal/internal/domain"
)

var doctorReq domain.RegisterRequest

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Manage doctor accounts",
}

var doctorAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a doctor account",
	Long:  `Doctors cannot self-register through the API. This command creates one in the configured postgres or sqlite store.`,
	RunE:  runDoctorAdd,
}

func init() {
	flags := doctorAddCmd.Flags()
	flags.StringVar(&doctorReq.Name, "name", "", "first name")
	flags.StringVar(&doctorReq.Surname, "surname", "", "last name")
	flags.StringVar(&doctorReq.EMBG, "embg", "", "personal identification number")
	flags.StringVar(&doctorReq.Email, "email", "", "login email")
	flags.StringVar(&doctorReq.Password, "password", "", "initial password")
	for _, name := range []string{"name", "surname", "embg", "email", "password"} {
		_ = doctorAddCmd.MarkFlagRequired(name)
	}

	doctorCmd.AddCommand(doctorAddCmd)
}

func runDoctorAdd(cmd *cobra.Command, args []string) error {
	configManager, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStores(ctx, configManager, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if st.Users == nil {
		return fmt.Errorf("doctor accounts can only be created in postgres or sqlite store mode")
	}

	if err := auth.NewService(st.Users, logger).RegisterDoctor(ctx, doctorReq); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Doctor %s %s <%s> created\n", doctorReq.Name, doctorReq.Surname, doctorReq.Email)
	return nil
}
