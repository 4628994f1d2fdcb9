package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/blacktop/pagecast/internal/publish"
	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
)

const metadataEndpoint = "https://upload.twitter.com/1.1/media/metadata/create.json"

var mediaTypes = map[string]struct {
	typ      uploadtypes.MediaType
	category uploadtypes.MediaCategory
}{
	"image/jpeg": {uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage},
	"image/png":  {uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage},
	"image/gif":  {uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF},
	"image/webp": {uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage},
}

// upload runs the chunked INIT/APPEND/FINALIZE flow in a single segment and
// returns the media id.
func (c *Client) upload(ctx context.Context, img publish.Image, alt string) (string, error) {
	mt, ok := mediaTypes[img.ContentType]
	if !ok {
		return "", publish.ValidationError{Provider: providerName, Reason: fmt.Sprintf("unsupported image type %s for %q", img.ContentType, img.Name)}
	}

	initRes, err := upload.Initialize(ctx, c.api, &uploadtypes.InitializeInput{
		MediaType:     mt.typ,
		TotalBytes:    len(img.Data),
		MediaCategory: mt.category,
	})
	if err != nil {
		return "", fmt.Errorf("initialize upload: %w", apiError(err))
	}
	if err := partialError(initRes.Errors); err != nil {
		return "", fmt.Errorf("initialize upload: %w", err)
	}
	mediaID := initRes.Data.MediaID

	appendIn := &uploadtypes.AppendInput{MediaID: mediaID, Media: bytes.NewReader(img.Data)}
	appendIn.GenerateBoundary()
	appendRes, err := upload.Append(ctx, c.api, appendIn)
	if err != nil {
		return "", fmt.Errorf("append upload: %w", apiError(err))
	}
	if err := partialError(appendRes.Errors); err != nil {
		return "", fmt.Errorf("append upload: %w", err)
	}

	finRes, err := upload.Finalize(ctx, c.api, &uploadtypes.FinalizeInput{MediaID: mediaID})
	if err != nil {
		return "", fmt.Errorf("finalize upload: %w", apiError(err))
	}
	if err := partialError(finRes.Errors); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	// Images are usually processed by the time FINALIZE returns; otherwise
	// the API says how long to wait before the media can be attached.
	info := finRes.Data.ProcessingInfo
	switch info.State {
	case "", resources.ProcessingInfoStateSucceeded:
	case resources.ProcessingInfoStateInProgress, resources.ProcessingInfoStatePending:
		if err := sleep(ctx, time.Duration(info.CheckAfterSecs)*time.Second); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("media processing failed: state=%s", info.State)
	}
	logutil.Debugf("media uploaded: media_id=%s bytes=%d", mediaID, len(img.Data))

	if alt != "" {
		if err := c.setAltText(ctx, mediaID, alt); err != nil {
			return "", err
		}
	}
	return mediaID, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) setAltText(ctx context.Context, mediaID, alt string) error {
	ctx = context.WithValue(ctx, "Content-Type", "application/json;charset=UTF-8")
	params := &altTextParams{mediaID: mediaID, text: alt}
	if err := c.api.CallAPI(ctx, metadataEndpoint, http.MethodPost, params, &altTextResponse{}); err != nil {
		return fmt.Errorf("set alt text: %w", apiError(err))
	}
	return nil
}

// altTextParams implements gotwi's util.Parameters for the v1.1 metadata
// endpoint, which gotwi does not wrap.
type altTextParams struct {
	mediaID     string
	text        string
	accessToken string
}

func (p *altTextParams) SetAccessToken(token string) { p.accessToken = token }

func (p *altTextParams) AccessToken() string { return p.accessToken }

func (p *altTextParams) ResolveEndpoint(base string) string { return base }

func (p *altTextParams) ParameterMap() map[string]string { return map[string]string{} }

func (p *altTextParams) Body() (io.Reader, error) {
	var body struct {
		MediaID string `json:"media_id"`
		AltText struct {
			Text string `json:"text"`
		} `json:"alt_text"`
	}
	body.MediaID = p.mediaID
	body.AltText.Text = p.text
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

type altTextResponse struct{}

func (altTextResponse) HasPartialError() bool { return false }
