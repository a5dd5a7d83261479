package command

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"parkeaya/internal/config"
	"parkeaya/internal/db"
	"parkeaya/internal/entities"
	"parkeaya/internal/log"
	"parkeaya/internal/repository"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var newUser struct {
	email, name, phone, password string
	roles                        []string
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if newUser.email == "" || newUser.password == "" {
			return errors.New("email and password cannot be empty")
		}
		for _, r := range newUser.roles {
			if _, err := entities.ParseRole(r); err != nil {
				return err
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		conn, err := openDB(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		u := &db.User{Email: newUser.email, Name: newUser.name, Phone: newUser.phone, Roles: newUser.roles}
		if err := repository.NewPostgresStore(conn).CreateUser(cmd.Context(), u, newUser.password); err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
		log.Info(cmd.Context(), "user created", log.Actor(u.ID), log.Str("email", u.Email))
		return nil
	},
}

func init() {
	f := userCreateCmd.Flags()
	f.StringVar(&newUser.email, "email", "", "login email")
	f.StringVar(&newUser.name, "name", "", "display name")
	f.StringVar(&newUser.phone, "phone", "", "phone number in E.164 format")
	f.StringVar(&newUser.password, "password", "", "initial password")
	f.StringSliceVar(&newUser.roles, "role", []string{string(entities.RoleClient)}, "roles: client, staff, owner, admin")
	userCmd.AddCommand(userCreateCmd)
}
