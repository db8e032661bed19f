package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"cadencer/config"
)

// TrackingToken derives the verification token for a message id. Both the
// link generator and the tracking endpoints use this, so tokens survive
// restarts.
func TrackingToken(messageID string) string {
	hash := sha256.Sum256([]byte(messageID + config.AppConfig.EncryptionKey))
	return base64.URLEncoding.EncodeToString(hash[:])[:20]
}

// ValidateTrackingToken reports whether token belongs to messageID.
func ValidateTrackingToken(messageID, token string) bool {
	return token == TrackingToken(messageID)
}

// TrackingPixelURL generates a tracking pixel URL for email opens
func TrackingPixelURL(baseURL, messageID string) string {
	return fmt.Sprintf("%s/track/open/%s/%s", baseURL, messageID, TrackingToken(messageID))
}

// ClickTrackURL generates a tracked URL for links
func ClickTrackURL(baseURL, messageID, originalURL string) string {
	encodedURL := url.QueryEscape(originalURL)
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s", baseURL, messageID, TrackingToken(messageID), encodedURL)
}

// TrackingPixel returns the <img> tag appended to tracked email bodies
func TrackingPixel(baseURL, messageID string) string {
	return fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, TrackingPixelURL(baseURL, messageID))
}

// InjectClickTracking rewrites anchor hrefs to go through the click redirect
func InjectClickTracking(html, baseURL, messageID string) string {
	// This is a simplified version. Consider using an HTML parser for production
	startTag := "<a href=\""
	endTag := "\""
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		trackedURL := ClickTrackURL(baseURL, messageID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
