package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testConnectionString = "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net"

func TestNewAzureBlobClient(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	tests := []struct {
		name             string
		connectionString string
		containerName    string
		wantErr          bool
		errContains      string
	}{
		{
			name:             "empty connection string",
			connectionString: "",
			containerName:    "test-container",
			wantErr:          true,
			errContains:      "connection string is required",
		},
		{
			name:             "empty container name",
			connectionString: testConnectionString,
			containerName:    "",
			wantErr:          true,
			errContains:      "container name is required",
		},
		{
			name:             "missing account key",
			connectionString: "AccountName=test",
			containerName:    "test-container",
			wantErr:          true,
			errContains:      "account name and key are required",
		},
		{
			name:             "valid connection string",
			connectionString: testConnectionString,
			containerName:    "test-container",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewAzureBlobClient(tt.connectionString, tt.containerName, logger)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, client)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://test.blob.core.windows.net", client.serviceURL)
		})
	}
}

func TestAzureBlobClient_ExtractBlobPath(t *testing.T) {
	conn := "AccountName=devstoreaccount1;AccountKey=dGVzdA==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1"
	client, err := NewAzureBlobClient(conn, "slotflow", nil)
	require.NoError(t, err)

	tests := []struct {
		reference string
		want      string
	}{
		{"runs/r1/results.json", "runs/r1/results.json"},
		{"slotflow/runs/r1/results.json", "runs/r1/results.json"},
		{"http://127.0.0.1:10000/devstoreaccount1/slotflow/runs/r1/results.json?sig=abc", "runs/r1/results.json"},
		{"runs/r1/slots/a%20b/out.json", "runs/r1/slots/a b/out.json"},
	}
	for _, tt := range tests {
		t.Run(tt.reference, func(t *testing.T) {
			got, err := client.extractBlobPath(tt.reference)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = client.extractBlobPath("  ")
	assert.Error(t, err)
}

func TestAzureBlobClient_RoundTrip(t *testing.T) {
	// Azurite default development account
	conn := "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1"
	client, err := NewAzureBlobClient(conn, "slotflow-test", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data := []byte(`[{"data":1,"annotations":{"sample":"a"}}]`)
	blobURL, err := client.Upload(ctx, "roundtrip/out.json", data, map[string]string{"run_id": "r1"})
	if err != nil {
		t.Skip("Azure Blob Storage not available - run 'azurite' for local testing")
	}
	assert.Contains(t, blobURL, "roundtrip/out.json")

	downloaded, err := client.Download(ctx, blobURL)
	require.NoError(t, err)
	assert.Equal(t, data, downloaded)

	_, err = client.Download(ctx, "roundtrip/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}
