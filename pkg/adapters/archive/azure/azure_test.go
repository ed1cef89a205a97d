package azure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
)

const azurite = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString(azurite)
	assert.Equal(t, "devstoreaccount1", params["AccountName"])
	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1", params["BlobEndpoint"])
	assert.True(t, len(params["AccountKey"]) > 0)
	assert.Equal(t, "==", params["AccountKey"][len(params["AccountKey"])-2:], "key padding kept")
}

func TestEndpointFromConnectionString(t *testing.T) {
	svc, name, _, err := endpointFromConnectionString("AccountName=acct;AccountKey=a2V5;EndpointSuffix=core.usgovcloudapi.net")
	require.NoError(t, err)
	assert.Equal(t, "acct", name)
	assert.Equal(t, "https://acct.blob.core.usgovcloudapi.net", svc)

	_, _, _, err = endpointFromConnectionString("AccountName=acct")
	assert.Error(t, err)
}

func TestBlobPath(t *testing.T) {
	assert.Equal(t, "runs/text/r1.json", BlobPath(&domain.RunState{RunID: "r1", Graph: "text"}))
	assert.Equal(t, "runs/unknown/r2.json", BlobPath(&domain.RunState{RunID: "r2"}))
}

func TestBlobMetadata(t *testing.T) {
	md := blobMetadata(&domain.RunState{RunID: "r1", Graph: "g", Status: domain.ExecutionStatusFailed, Ticks: 4, Error: "boom"})
	assert.Equal(t, "failed", md["status"])
	assert.Equal(t, "4", md["ticks"])
	assert.Equal(t, "true", md["failed"])
}

func TestNewArchiverValidation(t *testing.T) {
	logger := zap.NewNop()

	_, err := NewArchiver("", "runs", logger)
	assert.Error(t, err)
	_, err = NewArchiver(azurite, "", logger)
	assert.Error(t, err)
	_, err = NewArchiver(azurite, "runs", nil)
	assert.Error(t, err)

	a, err := NewArchiver(azurite, "runs", logger)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestArchiveRejectsRunningRun(t *testing.T) {
	a, err := NewArchiver(azurite, "runs", zap.NewNop())
	require.NoError(t, err)

	err = a.Archive(context.Background(), &domain.RunState{RunID: "r1", Status: domain.ExecutionStatusRunning})
	assert.ErrorIs(t, err, domain.ErrRunNotTerminal)
}
