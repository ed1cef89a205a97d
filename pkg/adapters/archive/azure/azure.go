// Package azure archives finished runs to Azure Blob Storage.
package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
)

// Archiver writes one JSON blob per terminal run
type Archiver struct {
	client        *azblob.Client
	containerName string
	logger        *zap.Logger

	mu            sync.Mutex
	containerInit bool
}

// NewArchiver creates an archiver from a storage connection string.
// BlobEndpoint may point at a local Azurite instance over plain HTTP.
func NewArchiver(connectionString, containerName string, logger *zap.Logger) (*Archiver, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("container name is required")
	}

	serviceURL, accountName, accountKey, err := endpointFromConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &Archiver{
		client:        client,
		containerName: containerName,
		logger:        logger,
	}, nil
}

// Archive uploads the run record. Non-terminal runs are rejected.
func (a *Archiver) Archive(ctx context.Context, state *domain.RunState) error {
	if state == nil {
		return fmt.Errorf("run state is required")
	}
	if !state.Status.IsTerminal() {
		return fmt.Errorf("run %s: %w", state.RunID, domain.ErrRunNotTerminal)
	}
	if err := a.ensureContainer(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	blobPath := BlobPath(state)
	blobClient := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlockBlobClient(blobPath)

	_, err = blobClient.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		Metadata: toMetadata(blobMetadata(state)),
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/json"),
		},
	})
	if err != nil {
		a.logger.Error("Failed to archive run",
			zap.String("run_id", state.RunID),
			zap.String("blob_path", blobPath),
			zap.Error(err))
		return fmt.Errorf("blob upload failed: %w", err)
	}

	a.logger.Info("Run archived",
		zap.String("run_id", state.RunID),
		zap.String("blob_path", blobPath),
		zap.Int("size_bytes", len(data)))

	return nil
}

func (a *Archiver) ensureContainer(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.containerInit {
		return nil
	}

	_, err := a.client.CreateContainer(ctx, a.containerName, nil)
	if err != nil && !containerExists(err) {
		return fmt.Errorf("failed to ensure container: %w", err)
	}

	a.containerInit = true
	return nil
}

func containerExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == "ContainerAlreadyExists" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "containeralreadyexists")
}

// BlobPath returns runs/<graph>/<run_id>.json
func BlobPath(state *domain.RunState) string {
	graph := state.Graph
	if graph == "" {
		graph = "unknown"
	}
	return path.Join("runs", graph, state.RunID+".json")
}

func blobMetadata(state *domain.RunState) map[string]string {
	md := map[string]string{
		"run_id": state.RunID,
		"graph":  state.Graph,
		"status": string(state.Status),
		"ticks":  strconv.Itoa(state.Ticks),
	}
	if state.Error != "" {
		md["failed"] = "true"
	}
	return md
}

func toMetadata(md map[string]string) map[string]*string {
	out := make(map[string]*string, len(md))
	for k, v := range md {
		out[k] = to.Ptr(v)
	}
	return out
}

func endpointFromConnectionString(connectionString string) (serviceURL, accountName, accountKey string, err error) {
	params := parseConnectionString(connectionString)
	accountName = params["AccountName"]
	accountKey = params["AccountKey"]
	serviceURL = params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return "", "", "", fmt.Errorf("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		protocol := params["DefaultEndpointsProtocol"]
		if protocol == "" {
			protocol = "https"
		}
		suffix := params["EndpointSuffix"]
		if suffix == "" {
			suffix = "core.windows.net"
		}
		serviceURL = fmt.Sprintf("%s://%s.blob.%s", protocol, accountName, suffix)
	}
	return strings.TrimRight(serviceURL, "/"), accountName, accountKey, nil
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		key, value, ok := strings.Cut(part, "=")
		if !ok || key == "" {
			continue
		}
		params[key] = value
	}
	return params
}
