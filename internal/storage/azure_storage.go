package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	apperrors "github.com/anime-shed/photo-locator-go/internal/errors"
	"github.com/anime-shed/photo-locator-go/pkg/models"
)

// blobDownloader is the part of *azblob.Client the fetcher uses
type blobDownloader interface {
	DownloadStream(ctx context.Context, containerName string, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
}

// AzureBlobFetcher implements ImageFetcher for https://<account>.blob.core.windows.net/<container>/<blob> URLs
type AzureBlobFetcher struct {
	client   blobDownloader
	account  string
	maxBytes int64
}

// NewAzureBlobFetcher authenticates with a shared key for accountName
func NewAzureBlobFetcher(accountName, accountKey string, maxBytes int64) (*AzureBlobFetcher, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure blob client: %w", err)
	}

	return newAzureBlobFetcher(client, accountName, maxBytes), nil
}

func newAzureBlobFetcher(client blobDownloader, accountName string, maxBytes int64) *AzureBlobFetcher {
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageSize
	}
	return &AzureBlobFetcher{client: client, account: strings.ToLower(accountName), maxBytes: maxBytes}
}

// FetchImage downloads the blob named by blobURL
func (s *AzureBlobFetcher) FetchImage(ctx context.Context, blobURL string) (*models.ImageAsset, error) {
	containerName, blobName, err := s.parseBlobURL(blobURL)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode >= 400 && respErr.StatusCode < 500 {
			return nil, apperrors.NewDecodeError(
				fmt.Sprintf("blob download failed: status code %d", respErr.StatusCode), err)
		}
		return nil, apperrors.NewUpstreamError(http.StatusBadGateway, "blob download failed", "", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength != nil && *resp.ContentLength > s.maxBytes {
		return nil, apperrors.NewPayloadTooLargeError(*resp.ContentLength, s.maxBytes)
	}

	data, err := readLimited(resp.Body, s.maxBytes)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindPayloadTooLarge) {
			return nil, err
		}
		return nil, apperrors.NewUpstreamError(http.StatusBadGateway, "blob download failed", "", err)
	}

	contentType := ""
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}

	return &models.ImageAsset{
		Data:     data,
		MIMEType: mediaType(contentType),
		Filename: path.Base(blobName),
	}, nil
}

// parseBlobURL splits a blob URL into container and blob name. The URL must
// belong to the configured account.
func (s *AzureBlobFetcher) parseBlobURL(blobURL string) (string, string, error) {
	u, err := url.Parse(blobURL)
	if err != nil {
		return "", "", apperrors.NewValidationError("invalid blob URL", err)
	}

	host := strings.ToLower(u.Hostname())
	if account := strings.TrimSuffix(host, ".blob.core.windows.net"); account != s.account {
		return "", "", apperrors.NewValidationError(
			fmt.Sprintf("blob URL is not in storage account %q", s.account), nil)
	}

	containerName, blobName, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !ok || containerName == "" || blobName == "" {
		return "", "", apperrors.NewValidationError("blob URL must name a container and a blob", nil)
	}
	return containerName, blobName, nil
}
