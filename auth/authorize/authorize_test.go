package authorize_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/healthguide/go-health-api/auth"
	"github.com/healthguide/go-health-api/auth/audit"
	"github.com/healthguide/go-health-api/auth/audit/auditfakes"
	"github.com/healthguide/go-health-api/auth/authorize"
)

func TestAuthorizer_Require(t *testing.T) {
	identity := auth.Identity{
		Subject: "user-123",
		Roles:   []string{"user", "clinician"},
		Source:  auth.SourceInternal,
	}

	t.Run("no requirement passes", func(t *testing.T) {
		a := authorize.New(auditfakes.NewFakeRecorder())
		require.NoError(t, a.Require(identity, "/bloodpressure"))
	})

	t.Run("any matching role passes", func(t *testing.T) {
		a := authorize.New(auditfakes.NewFakeRecorder())
		require.NoError(t, a.Require(identity, "/bloodpressure", "admin", "clinician"))
	})

	t.Run("missing role denies and audits", func(t *testing.T) {
		recorder := auditfakes.NewFakeRecorder()
		a := authorize.New(recorder)

		err := a.Require(identity, "/admin/audit", "admin")
		require.True(t, errors.Is(err, auth.AccessDeniedErr))

		denials := recorder.ByType(audit.EventAccessDenied)
		require.Len(t, denials, 1)
		require.Equal(t, "user-123", denials[0].SubjectID)
		require.Equal(t, "/admin/audit", denials[0].Resource)
		require.Contains(t, denials[0].Detail, "admin")
	})

	t.Run("success is not audited", func(t *testing.T) {
		recorder := auditfakes.NewFakeRecorder()
		a := authorize.New(recorder)

		require.NoError(t, a.Require(identity, "/bloodpressure", "user"))
		require.Empty(t, recorder.Events())
	})
}
