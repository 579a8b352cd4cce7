package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

func newIssueTokenCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "issue-token",
		Description: "Sign a bearer token for a user and role",
		Flags:       flag.NewFlagSet("issue-token", flag.ContinueOnError),
	}

	user := cmd.Flags.String("user", "", "User id for the sub claim")
	role := cmd.Flags.String("role", "", "Role id for the role claim")
	ttl := cmd.Flags.Duration("ttl", 0, "Token lifetime (default GATEHOUSE_TOKEN_TTL)")
	skipCheck := cmd.Flags.Bool("skip-role-check", false, "Sign without verifying the role exists and is active")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *user == "" || *role == "" {
			return fmt.Errorf("--user and --role are required")
		}
		return runIssueToken(ctx, env, *user, *role, *ttl, *skipCheck)
	}

	return cmd
}

func runIssueToken(ctx context.Context, env *Env, userID, roleID string, ttl time.Duration, skipCheck bool) error {
	cfg, err := env.LoadConfig()
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	var db *sql.DB
	if !skipCheck {
		_, backend, err := env.openBackend(ctx, nil)
		if err != nil {
			return err
		}
		defer backend.Close()

		role, err := rbac.NewService(backend, backend).GetByID(ctx, roleID)
		if err != nil {
			return fmt.Errorf("failed to load role %s: %w", roleID, err)
		}
		if role.Status != rbac.StatusActive {
			return fmt.Errorf("role %s (%s) is %s", role.Slug, roleID, role.Status)
		}
		db = backend.DB
	}

	token, claims, err := tokens.CreateToken(userID, roleID, ttl)
	if err != nil {
		return err
	}

	auditLogger, err := api.NewAuditLogger(cfg.Audit, db, storageLogger(cfg), nil)
	if err != nil {
		return err
	}
	defer auditLogger.Close()

	event := &audit.AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    audit.EventTypeAuthTokenIssue,
		Status:       audit.EventStatusSuccess,
		UserID:       userID,
		RoleID:       roleID,
		ResourceType: audit.ResourceTypeToken,
		ResourceID:   claims.ID,
		Message:      "token issued from the operator CLI",
		Metadata:     map[string]interface{}{"expires_at": claims.ExpiresAt.Time},
	}
	if err := auditLogger.Log(ctx, event); err != nil {
		env.Logger.WithError(err).Warn("Failed to record token issue")
	}

	fmt.Fprintln(env.Out, token)
	env.Logger.WithFields(logrus.Fields{
		"user":       userID,
		"role":       roleID,
		"token_id":   claims.ID,
		"expires_at": claims.ExpiresAt.Time.Format(time.RFC3339),
	}).Info("Token issued")

	return nil
}
