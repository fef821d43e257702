package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"notifyd/internal/app"
	"notifyd/internal/consent"
	"notifyd/internal/identity"
)

func main() {
	var (
		cfgPath string
		consFlg string
		userID  string
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json or yaml")
	flag.StringVar(&consFlg, "consent", "ask", "consent prompt policy: ask, grant, deny")
	flag.StringVar(&userID, "user", "", "sign in as this user id at startup")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	prompter, err := newPrompter(consFlg)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	a, err := app.NewApp(cfgPath, prompter)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	if userID != "" {
		a.Identity().SignIn(identity.UserID(userID))
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	reason := app.StopSignal
	if err := a.Err(); err != nil {
		reason = app.StopFatalError
	}
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

// newPrompter maps the -consent flag onto a consent.Prompter. "ask" reads
// one y/n line from stdin the first time a prompt is due; "grant" and "deny"
// answer without asking, for headless runs.
func newPrompter(policy string) (consent.Prompter, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "ask":
		return &stdinPrompter{}, nil
	case "grant":
		return fixedPrompter(consent.PermissionGranted), nil
	case "deny":
		return fixedPrompter(consent.PermissionDenied), nil
	default:
		return nil, fmt.Errorf("unknown consent policy %q", policy)
	}
}

type fixedPrompter consent.Permission

func (p fixedPrompter) State() consent.Permission { return consent.Permission(p) }

func (p fixedPrompter) Request(context.Context) (consent.Permission, error) {
	return consent.Permission(p), nil
}

type stdinPrompter struct {
	state consent.Permission
}

func (p *stdinPrompter) State() consent.Permission { return p.state }

func (p *stdinPrompter) Request(ctx context.Context) (consent.Permission, error) {
	fmt.Print("Allow notifications? [y/N]: ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return p.state, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return p.state, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			p.state = consent.PermissionGranted
		default:
			p.state = consent.PermissionDenied
		}
		return p.state, nil
	}
}
