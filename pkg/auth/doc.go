// Package auth issues and validates the bearer tokens that identify
// gatehouse principals.
//
// A token is an HS256 JWT whose subject is the user id and whose "role"
// claim is the id of the principal's single role:
//
//	tm, err := auth.NewTokenManager(secret, "gatehouse", 12*time.Hour)
//	token, claims, err := tm.CreateToken("user-42", roleID, 0)
//
//	authCtx, err := tm.ValidateToken(token)
//	authCtx.RoleID()
//
// Authorization decisions on the role are made by pkg/rbac.
package auth
