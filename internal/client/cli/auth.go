package cli

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dmitrijs2005/plotroom/internal/client/api"
	"github.com/dmitrijs2005/plotroom/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

func (a *App) credentials() (string, []byte, error) {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return "", nil, err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return "", nil, err
	}
	return email, password, nil
}

func (a *App) loggedInAs(s *api.Session) {
	a.userName = s.User.Email
	a.setMode(ModeOnline)
	fmt.Fprintf(a.out, "Logged in as %s (%s)\n", s.User.Name, s.User.Email)
}

// Register prompts for email, password and display name and creates an
// account. A successful registration also logs in.
func (a *App) Register(ctx context.Context) error {
	email, password, err := a.credentials()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	name, err := getSimpleText(a.reader, "Enter display name", a.out)
	if err != nil {
		return err
	}

	s, err := a.api.Register(ctx, email, string(password), name)
	if err != nil {
		log.Printf("Registration unsuccessful: %s", err.Error())
		return err
	}
	a.loggedInAs(s)
	return nil
}

// Login prompts for credentials and opens a session.
func (a *App) Login(ctx context.Context) error {
	email, password, err := a.credentials()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	s, err := a.api.Login(ctx, email, string(password))
	if err != nil {
		if errors.Is(err, api.ErrUnavailable) {
			a.setMode(ModeOffline)
		}
		log.Printf("Login unsuccessful: %s", err.Error())
		return err
	}
	a.loggedInAs(s)
	return nil
}

func (a *App) Me(ctx context.Context) error {
	u, err := a.api.Me(ctx)
	if err != nil {
		log.Printf("error: %s", err.Error())
		return err
	}
	fmt.Fprintf(a.out, "id: %s\nemail: %s\nname: %s\n", u.ID, u.Email, u.Name)
	if u.LastLoginAt != nil {
		fmt.Fprintf(a.out, "last login: %s\n", u.LastLoginAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func (a *App) Status(ctx context.Context) error {
	s, err := a.api.Status(ctx)
	if err != nil {
		log.Printf("error: %s", err.Error())
		return err
	}
	if s.Authenticated && s.User != nil {
		fmt.Fprintf(a.out, "authenticated as %s\n", s.User.Email)
	} else {
		fmt.Fprintln(a.out, "not authenticated")
	}
	return nil
}

// ChangePassword asks for the current and the new password. The server
// revokes every session afterwards, so the user has to log in again.
func (a *App) ChangePassword(ctx context.Context) error {
	fmt.Fprintln(a.out, "Current password")
	current, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(current)

	fmt.Fprintln(a.out, "New password")
	next, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(next)

	if err := a.api.ChangePassword(ctx, string(current), string(next)); err != nil {
		log.Printf("Password change unsuccessful: %s", err.Error())
		return err
	}
	a.closeStream()
	a.userName = ""
	fmt.Fprintln(a.out, "Password changed, please log in again")
	return nil
}

// Logout closes the realtime stream and revokes the current session.
func (a *App) Logout(ctx context.Context) error {
	a.closeStream()
	a.userName = ""
	return a.api.Logout(ctx)
}

// LogoutAll revokes every session of the user.
func (a *App) LogoutAll(ctx context.Context) error {
	a.closeStream()
	if err := a.api.LogoutAll(ctx); err != nil {
		return err
	}
	a.userName = ""
	return nil
}
