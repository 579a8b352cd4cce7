package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// ErrDenied is returned by check when the role lacks the permission
var ErrDenied = errors.New("permission denied")

func newCheckCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Evaluate whether a role may perform an action",
		Flags:       flag.NewFlagSet("check", flag.ContinueOnError),
	}

	role := cmd.Flags.String("role", "", "Role id")
	resource := cmd.Flags.String("resource", "", "Resource slug")
	action := cmd.Flags.String("action", "", "Action, for example read.any")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *role == "" || *resource == "" || *action == "" {
			return fmt.Errorf("--role, --resource and --action are required")
		}
		return runCheck(ctx, env, *role, *resource, *action)
	}

	return cmd
}

func runCheck(ctx context.Context, env *Env, roleID, resourceSlug, actionName string) error {
	action, err := rbac.ParseAction(actionName)
	if err != nil {
		return err
	}

	_, backend, err := env.openBackend(ctx, nil)
	if err != nil {
		return err
	}
	defer backend.Close()

	checker := rbac.NewPermissionChecker(rbac.NewService(backend, backend), rbac.CheckerConfig{})
	decision, err := checker.Check(ctx, roleID, resourceSlug, action)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(env.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(decision); err != nil {
		return err
	}

	if !decision.Allowed {
		return fmt.Errorf("%w: %s", ErrDenied, decision.Reason)
	}
	return nil
}
