package jkt48api

import (
	"strings"
	"time"
)

// Member is a roster entry.
type Member struct {
	ID          string   `json:"_id"`
	Name        string   `json:"name"`
	Nicknames   []string `json:"nicknames"`
	Image       string   `json:"img"`
	ImageAlt    string   `json:"img_alt"`
	URL         string   `json:"url"`
	Group       string   `json:"group"`
	Generation  string   `json:"generation"`
	RoomID      int64    `json:"room_id"`
	ShowroomOn  bool     `json:"sr_exists"`
	IsGraduated bool     `json:"is_graduate"`
}

// SocialLink is a member's external profile.
type SocialLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// MemberDetail is the full profile of one member.
type MemberDetail struct {
	Member
	FullName    string       `json:"fullname"`
	Description string       `json:"description"`
	Birthdate   string       `json:"birthdate"`
	BloodType   string       `json:"bloodType"`
	Height      string       `json:"height"`
	Socials     []SocialLink `json:"socials"`
	IDNUsername string       `json:"idn_username"`
	Jikosokai   string       `json:"jikosokai"`
}

// TheaterShow is a schedule entry.
type TheaterShow struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Banner         string    `json:"banner"`
	Poster         string    `json:"poster"`
	MemberCount    int       `json:"member_count"`
	SeitansaiCount int       `json:"seitansai_count"`
	URL            string    `json:"url"`
	Date           time.Time `json:"date"`
}

// TheaterMember is a performer in a show.
type TheaterMember struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"img"`
	URL   string `json:"url_key"`
}

// TheaterDetail describes one show.
type TheaterDetail struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Setlist     string          `json:"setlist"`
	Poster      string          `json:"poster"`
	Banner      string          `json:"banner"`
	Date        time.Time       `json:"date"`
	Members     []TheaterMember `json:"members"`
	Seitansai   []TheaterMember `json:"seitansai"`
}

// Event is a calendar entry.
type Event struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Type  string    `json:"type"`
	URL   string    `json:"url"`
	Date  time.Time `json:"date"`
}

// StreamURL is one playback rendition.
type StreamURL struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
}

// LiveStream is a member currently broadcasting.
type LiveStream struct {
	Name          string      `json:"name"`
	Image         string      `json:"img"`
	ImageAlt      string      `json:"img_alt"`
	URLKey        string      `json:"url_key"`
	Slug          string      `json:"slug"`
	RoomID        int64       `json:"room_id"`
	Type          string      `json:"type"`
	ChatRoomID    string      `json:"chat_room_id"`
	StartedAt     time.Time   `json:"started_at"`
	StreamingURLs []StreamURL `json:"streaming_url_list"`
	IsPremium     bool        `json:"is_premium"`
}

// RecentLive summarizes a finished broadcast.
type RecentLive struct {
	ID        string    `json:"data_id"`
	Name      string    `json:"name"`
	Image     string    `json:"img"`
	Type      string    `json:"type"`
	RoomID    int64     `json:"room_id"`
	Viewers   int64     `json:"viewers"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Duration  int64     `json:"duration"`
}

// Gift is a gift summary in a recent broadcast.
type Gift struct {
	Name  string `json:"name"`
	Image string `json:"img"`
	Count int64  `json:"num"`
}

// RecentDetail describes one finished broadcast.
type RecentDetail struct {
	RecentLive
	Title     string `json:"title"`
	Comments  int64  `json:"comments"`
	GiftTotal int64  `json:"gift_total"`
	Gifts     []Gift `json:"gifts"`
}

// Replay is an archived broadcast.
type Replay struct {
	Title       string    `json:"title"`
	VideoID     string    `json:"videoId"`
	URL         string    `json:"url"`
	Thumbnail   string    `json:"thumbnail"`
	Channel     string    `json:"channel"`
	PublishedAt time.Time `json:"published_at"`
}

// YouTubeVideo is an official channel upload.
type YouTubeVideo struct {
	Title       string    `json:"title"`
	VideoID     string    `json:"videoId"`
	URL         string    `json:"url"`
	Thumbnail   string    `json:"thumbnail"`
	ChannelName string    `json:"channel_name"`
	PublishedAt time.Time `json:"published_at"`
}

// Birthday is an upcoming member birthday.
type Birthday struct {
	Name      string `json:"name"`
	Birthdate string `json:"birthdate"`
	Image     string `json:"img"`
	URLKey    string `json:"url_key"`
	Age       int    `json:"age"`
}

// AdminStats summarizes API key usage.
type AdminStats struct {
	TotalKeys     int64 `json:"total_keys"`
	ActiveKeys    int64 `json:"active_keys"`
	ExpiredKeys   int64 `json:"expired_keys"`
	TotalRequests int64 `json:"total_requests"`
	TodayRequests int64 `json:"today_requests"`
}

// APIKeyDetail describes one API key.
type APIKeyDetail struct {
	APIKey       string    `json:"api_key"`
	Owner        string    `json:"owner"`
	Email        string    `json:"email"`
	Type         string    `json:"type"`
	Limit        int64     `json:"limit"`
	Used         int64     `json:"used"`
	Remaining    int64     `json:"remaining"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Changelog is a release note held by the database service.
type Changelog struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChangelogInput is the mutable part of a Changelog.
type ChangelogInput struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// CreateKeyRequest describes a new API key.
type CreateKeyRequest struct {
	Owner     string `json:"owner"`
	Email     string `json:"email"`
	CustomKey string `json:"custom_key,omitempty"`
	Type      string `json:"type,omitempty"`
	Limit     int64  `json:"limit"`
	Days      int64  `json:"days,omitempty"`
}

func normalizeMember(member *Member) {
	if member.Nicknames == nil {
		member.Nicknames = []string{}
	}
	if member.ImageAlt == "" {
		member.ImageAlt = member.Image
	}
}

func normalizeLive(stream *LiveStream) {
	stream.Type = strings.ToLower(strings.TrimSpace(stream.Type))
	if stream.StreamingURLs == nil {
		stream.StreamingURLs = []StreamURL{}
	}
	if stream.ImageAlt == "" {
		stream.ImageAlt = stream.Image
	}
}

func normalizeTheaterDetail(detail *TheaterDetail) {
	if detail.Members == nil {
		detail.Members = []TheaterMember{}
	}
	if detail.Seitansai == nil {
		detail.Seitansai = []TheaterMember{}
	}
}
