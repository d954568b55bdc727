package repeater

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/registry"
	"github.com/hqmotech/forwarder/internal/repository/memory"
	"github.com/hqmotech/forwarder/pkg/security"
)

func newService(t *testing.T) (*Service, *memory.RepeaterRepository, *memory.ConnectionSettingsRepository) {
	t.Helper()
	encryptor, err := security.NewAESEncryptor(security.DeriveKey("secret", "salt"))
	require.NoError(t, err)

	repeaters := memory.NewRepeaterRepository()
	conns := memory.NewConnectionSettingsRepository()
	return NewService(repeaters, conns, registry.Bootstrap(), encryptor), repeaters, conns
}

func TestCreateConnectionEncryptsPassword(t *testing.T) {
	svc, _, conns := newService(t)

	conn := &model.ConnectionSettings{Domain: "d", Name: "remote", URL: "https://example.com/receiver", AuthType: model.AuthTypeBasic, Username: "u"}
	require.NoError(t, svc.CreateConnection(context.Background(), conn, "hunter2"))

	stored, err := conns.Get(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.EncryptedPassword)
	assert.NotContains(t, string(stored.EncryptedPassword), "hunter2")
}

func TestCreateRepeaterRejectsUnknownFormat(t *testing.T) {
	svc, _, _ := newService(t)

	conn := &model.ConnectionSettings{Domain: "d", Name: "remote", URL: "https://example.com"}
	require.NoError(t, svc.CreateConnection(context.Background(), conn, ""))

	repeater := &model.Repeater{Domain: "d", ConnectionID: conn.ID, Kind: model.RepeaterKindCase, Format: "case_protobuf"}
	err := svc.CreateRepeater(context.Background(), repeater)

	var unknown *registry.UnknownFormatError
	assert.ErrorAs(t, err, &unknown)
}

func TestCreateRepeaterRejectsMissingConnection(t *testing.T) {
	svc, _, _ := newService(t)

	repeater := &model.Repeater{Domain: "d", ConnectionID: uuid.New(), Kind: model.RepeaterKindCase}
	assert.Error(t, svc.CreateRepeater(context.Background(), repeater))
}

func TestCreateRepeaterDefaultFormat(t *testing.T) {
	svc, repeaters, _ := newService(t)

	conn := &model.ConnectionSettings{Domain: "d", Name: "remote", URL: "https://example.com"}
	require.NoError(t, svc.CreateConnection(context.Background(), conn, ""))

	repeater := &model.Repeater{Domain: "d", ConnectionID: conn.ID, Kind: model.RepeaterKindCase}
	require.NoError(t, svc.CreateRepeater(context.Background(), repeater))

	stored, err := repeaters.Get(context.Background(), repeater.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active())
}

func TestPauseResumeAndDisable(t *testing.T) {
	svc, repeaters, _ := newService(t)

	conn := &model.ConnectionSettings{Domain: "d", Name: "remote", URL: "https://example.com"}
	require.NoError(t, svc.CreateConnection(context.Background(), conn, ""))
	repeater := &model.Repeater{Domain: "d", ConnectionID: conn.ID, Kind: model.RepeaterKindCase}
	require.NoError(t, svc.CreateRepeater(context.Background(), repeater))

	require.NoError(t, svc.SetPaused(context.Background(), repeater.ID, true))
	stored, err := repeaters.Get(context.Background(), repeater.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active())

	require.NoError(t, svc.SetPaused(context.Background(), repeater.ID, false))
	stored, err = repeaters.Get(context.Background(), repeater.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active())

	require.NoError(t, svc.Disable(context.Background(), repeater.ID))
	stored, err = repeaters.Get(context.Background(), repeater.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted())
	assert.False(t, stored.Active())
}
