package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/ramekin/internal/observability"
	"github.com/3leaps/ramekin/pkg/photostore"
)

var (
	photoID          string
	photoContentType string
)

var photosCmd = &cobra.Command{
	Use:   "photos",
	Short: "Manage recipe photos in the configured photo store",
}

var photosPutCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Upload a photo for a later import-photos job",
	Long: `Upload a photo into the owner's area of the photo store. The photo id
defaults to the file name without its extension.

Examples:
  ramekin photos put card-front.jpg --owner alice
  ramekin photos put IMG_0042.jpg --id grandma-scones --owner alice`,
	Args: cobra.ExactArgs(1),
	RunE: runPhotosPut,
}

var photosHeadCmd = &cobra.Command{
	Use:   "head <photo-id>",
	Short: "Show size and content type of a stored photo",
	Args:  cobra.ExactArgs(1),
	RunE:  runPhotosHead,
}

func init() {
	rootCmd.AddCommand(photosCmd)
	photosCmd.AddCommand(photosPutCmd)
	photosCmd.AddCommand(photosHeadCmd)

	photosPutCmd.Flags().StringVar(&photoID, "id", "", "Photo id (default: file name without extension)")
	photosPutCmd.Flags().StringVar(&photoContentType, "content-type", "", "Content type (default: sniffed from the file)")
}

// photoResult is printed after a successful upload.
type photoResult struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

func runPhotosPut(cmd *cobra.Command, args []string) error {
	owner, err := resolveOwner()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(foundry.ExitFileNotFound, "Photo file not found", err)
		}
		return exitError(foundry.ExitFileReadError, "Failed to read photo", err)
	}
	if len(data) > photostore.MaxPhotoBytes {
		return exitError(foundry.ExitInvalidArgument, "Photo too large",
			fmt.Errorf("%d bytes exceeds the %d byte limit", len(data), photostore.MaxPhotoBytes))
	}

	id := strings.TrimSpace(photoID)
	if id == "" {
		base := filepath.Base(path)
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}
	contentType := strings.TrimSpace(photoContentType)
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	photos, err := openPhotoStore(ctx, appConfig.Photos)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open photo store", err)
	}
	putter, ok := photos.(photostore.Putter)
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "Photo store is read-only",
			fmt.Errorf("backend %q does not accept uploads", appConfig.Photos.Backend))
	}
	if err := putter.Put(ctx, owner, id, contentType, data); err != nil {
		return photoError("Failed to store photo", err)
	}

	observability.CLILogger.Info("Photo stored",
		zap.String("photo_id", id),
		zap.Int("bytes", len(data)))
	return printResult(cmd.OutOrStdout(), photoResult{
		ID:          id,
		OwnerID:     owner,
		Size:        int64(len(data)),
		ContentType: contentType,
	})
}

func runPhotosHead(cmd *cobra.Command, args []string) error {
	owner, err := resolveOwner()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	photos, err := openPhotoStore(ctx, appConfig.Photos)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open photo store", err)
	}
	meta, err := photos.Head(ctx, owner, args[0])
	if err != nil {
		return photoError("Failed to read photo", err)
	}
	return printResult(cmd.OutOrStdout(), photoResult{
		ID:          meta.ID,
		OwnerID:     meta.OwnerID,
		Size:        meta.Size,
		ContentType: meta.ContentType,
	})
}

func photoError(message string, err error) error {
	switch {
	case photostore.IsNotFound(err):
		return exitError(foundry.ExitFileNotFound, message, err)
	case errors.Is(err, photostore.ErrTooLarge):
		return exitError(foundry.ExitInvalidArgument, message, err)
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, message, err)
	}
}
