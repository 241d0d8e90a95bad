package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	migrateFunc      = database.Migrate  // mockable

	errHelp  = errors.New("help provided")
	errNoSQL = errors.New("migrations require the postgres storage")
)

type commandLine struct {
	db     *sqlx.DB
	usrSvc *user.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  adduser -username USERNAME [-email EMAIL] [-admin] - create a user")
	fmt.Println("  resetpassword -username USERNAME - reset user's password")
	fmt.Println("  migrate COMMAND [ARGS...] - run a goose migration command (up, down, status, redo, ...)")
}

// promptPassword reads a password from the terminal without echoing it.
func promptPassword(label string) (string, error) {
	fmt.Print(label)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email address.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Create an admin instead of a student.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username. The password will be prompted next.")

	switch args[1] {
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserUname == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		confirm, err := promptPassword("Confirm password:")
		if err != nil {
			return err
		}
		return cli.addUser(*addUserUname, *addUserEmail, pwd, confirm, *addUserAdmin)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.usrSvc.SetPassword(context.Background(), *resetPasswordUname, pwd)

	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) addUser(uname, email, pwd, confirm string, isAdmin bool) error {
	nu := user.NewUser{
		Username:        uname,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: confirm,
		Role:            user.RoleStudent,
	}
	if isAdmin {
		nu.Role = user.RoleAdmin
	}
	usr, err := cli.usrSvc.Create(context.Background(), nu)
	if err != nil {
		return err
	}
	fmt.Printf("%s %q created (id %s)\n", usr.Role, usr.Username, usr.ID)
	return nil
}

func (cli *commandLine) migrate(args []string) error {
	db, err := cli.sqlDB()
	if err != nil {
		return err
	}
	return migrateFunc(db, args[0], args[1:]...)
}
