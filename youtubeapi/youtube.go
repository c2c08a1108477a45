// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API for
// publishing rendered videos. Each upload-destination account keeps its own token
// file under CREDENTIALS_DIR so multiple channels can be driven from one process.
package youtubeapi

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/audiocast/backend/config"
)

type Service struct {
	cfg   *config.Config
	oauth *oauth2.Config
}

func New(cfg *config.Config) *Service {
	scopes := []string{"https://www.googleapis.com/auth/youtube.upload"}
	if cfg.GoogleScopes != "" {
		// allow comma or space separated
		s := strings.ReplaceAll(cfg.GoogleScopes, ",", " ")
		fields := strings.Fields(s)
		if len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GoogleRedirectURI,
		Scopes:       scopes,
	}
	return &Service{cfg: cfg, oauth: oauth}
}

// AuthCodeURL builds the consent URL for a new account. state carries
// "accountID:chatID" so the callback can finish the adding_account flow.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and persists them to the
// account's credential file.
func (s *Service) Exchange(ctx context.Context, code, credentialsPath string) error {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("oauth exchange: %w", err)
	}
	if err := SaveToken(credentialsPath, tok); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	return nil
}

// client returns an authenticated YouTube service for the account, refreshing and
// re-persisting the token when it is near expiry.
func (s *Service) client(ctx context.Context, credentialsPath string) (*yt.Service, error) {
	tok, err := LoadToken(credentialsPath)
	if err != nil {
		return nil, err
	}
	if time.Until(tok.Expiry) <= 2*time.Minute {
		newTok, err := s.oauth.TokenSource(ctx, tok).Token()
		if err != nil {
			return nil, fmt.Errorf("token refresh: %w", err)
		}
		if err := SaveToken(credentialsPath, newTok); err != nil {
			return nil, fmt.Errorf("persist refreshed credentials: %w", err)
		}
		tok = newTok
	}
	client := s.oauth.Client(ctx, tok)
	return yt.New(client)
}

// Refresh force-refreshes an account's token when it falls within the window,
// persisting the result. Used by the background refresher.
func (s *Service) Refresh(ctx context.Context, credentialsPath string, window time.Duration) error {
	tok, err := LoadToken(credentialsPath)
	if err != nil {
		return err
	}
	if tok.RefreshToken == "" || time.Until(tok.Expiry) > window {
		return nil
	}
	newTok, err := s.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return err
	}
	return SaveToken(credentialsPath, newTok)
}

// Publish implements pipeline.Publisher: it uploads the video under the account's
// credentials and optionally sets a custom thumbnail, returning the watch URL.
func (s *Service) Publish(ctx context.Context, credentialsPath, videoPath, title, description, privacy string, thumbnailPath string) (string, error) {
	svc, err := s.client(ctx, credentialsPath)
	if err != nil {
		return "", fmt.Errorf("youtube client: %w", err)
	}
	videoID, err := UploadVideo(ctx, svc, videoPath, title, description, privacy)
	if err != nil {
		return "", err
	}
	if thumbnailPath != "" {
		if err := SetThumbnail(ctx, svc, videoID, thumbnailPath); err != nil {
			// The video is live; a failed thumbnail is not worth failing the workflow.
			return "https://www.youtube.com/watch?v=" + videoID, nil
		}
	}
	return "https://www.youtube.com/watch?v=" + videoID, nil
}

// UploadVideo uploads a video file at path with given title/description/privacy and
// returns the new video id.
func UploadVideo(ctx context.Context, svc *yt.Service, path, title, description, privacy string) (string, error) {
	if svc == nil {
		return "", fmt.Errorf("nil youtube service")
	}
	if privacy == "" {
		privacy = "public"
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	snippet := &yt.VideoSnippet{Title: title, Description: description}
	status := &yt.VideoStatus{PrivacyStatus: privacy}
	video := &yt.Video{Snippet: snippet, Status: status}
	call := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f)
	res, err := call.Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	if res.Id == "" {
		return "", fmt.Errorf("youtube upload: empty id")
	}
	return res.Id, nil
}

// SetThumbnail uploads a custom thumbnail for an existing video.
func SetThumbnail(ctx context.Context, svc *yt.Service, videoID, thumbnailPath string) error {
	f, err := os.Open(thumbnailPath)
	if err != nil {
		return fmt.Errorf("open thumbnail: %w", err)
	}
	defer f.Close()
	if _, err := svc.Thumbnails.Set(videoID).Media(f).Context(ctx).Do(); err != nil {
		return fmt.Errorf("set thumbnail: %w", err)
	}
	return nil
}
