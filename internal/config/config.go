package config

import (
	"io/fs"
	"time"
)

// -----------------------------------------------------------------------------
// Build Information
// -----------------------------------------------------------------------------

// Build variables are injected via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// UserAgent identifies the directory client on the wire.
var UserAgent = "CardDavBirthdays/" + Version

// -----------------------------------------------------------------------------
// Application Constants
// -----------------------------------------------------------------------------

const (
	AppName        = "MMM-CardDavBirthdaysProvider"
	AppID          = "com.github.ulrichwisser.carddav-birthdays"
	KeyringService = "com.github.ulrichwisser.carddav-birthdays"
	LogFileName    = "app.log"
	EnvFileName    = ".env"
)

// -----------------------------------------------------------------------------
// Exit Codes
// -----------------------------------------------------------------------------

const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// -----------------------------------------------------------------------------
// System & File Permissions
// -----------------------------------------------------------------------------

const (
	// FilePermUserRW represents -rw------- (Read/Write for owner only).
	// Used for logs and the settings file, which may hold a password.
	FilePermUserRW fs.FileMode = 0600

	// DirPermUserRWX represents drwx------ (Read/Write/Exec for owner only).
	DirPermUserRWX fs.FileMode = 0700

	// ChannelBufferSize defines the standard buffer size for internal signaling channels.
	ChannelBufferSize = 1
)

// -----------------------------------------------------------------------------
// CLI Commands & Flags
// -----------------------------------------------------------------------------

const (
	CmdRoot    = "carddav-birthdays"
	CmdServe   = "serve"
	CmdOnce    = "once"
	CmdVersion = "version"

	CmdDescRoot    = "Publish CardDAV contact birthdays as an iCalendar feed"
	CmdDescServe   = "Refresh birthdays periodically and serve the calendar feed"
	CmdDescOnce    = "Run a single refresh and write the calendar to stdout or a file"
	CmdDescVersion = "Show application version and exit"

	FlagConfig     = "config"
	FlagDebug      = "debug"
	FlagOut        = "out"
	FlagDescConfig = "Path to the YAML settings file"
	FlagDescDebug  = "Enable debug logging"
	FlagDescOut    = "Write the calendar to this file instead of stdout"

	DefaultConfigPath = "config.yaml"
	MsgVersionOutput  = "%s version %s (%s) built %s (%s/%s)\n"
)

// -----------------------------------------------------------------------------
// Environment Overrides
// -----------------------------------------------------------------------------

const (
	EnvPrefix        = "CARDDAV_BIRTHDAYS_"
	EnvSource        = EnvPrefix + "SOURCE"
	EnvServerURL     = EnvPrefix + "SERVER_URL"
	EnvUsername      = EnvPrefix + "USERNAME"
	EnvPassword      = EnvPrefix + "PASSWORD"
	EnvAuthMethod    = EnvPrefix + "AUTH_METHOD"
	EnvToken         = EnvPrefix + "TOKEN"
	EnvLocalPath     = EnvPrefix + "LOCAL_PATH"
	EnvListen        = EnvPrefix + "LISTEN"
	EnvRefreshPeriod = EnvPrefix + "REFRESH_PERIOD"
	EnvLanguage      = EnvPrefix + "LANGUAGE"
)

// -----------------------------------------------------------------------------
// Default Values & Business Logic
// -----------------------------------------------------------------------------

const (
	SourceCardDAV = "carddav"
	SourceWeb     = "web"
	SourceLocal   = "local"

	AuthBasic  = "basic"
	AuthBearer = "bearer"
	AuthNone   = "none"

	DefaultSource        = SourceCardDAV
	DefaultAuthMethod    = AuthBasic
	DefaultListen        = "127.0.0.1:8080"
	DefaultFeedPath      = "/" + AppName
	DefaultRefreshPeriod = 1 * time.Hour
	DefaultLanguage      = "en"

	// YearUnknownThreshold marks directory years below it as placeholders
	// (Apple stores 1604 for "no year").
	YearUnknownThreshold = 1900

	// CompactDateDigits is the length of a YYYYMMDD literal.
	CompactDateDigits = 8

	// BirthdayNoonHour is the time-of-day attached to every civil date.
	BirthdayNoonHour = 12
)

// SupportedLanguages defines the list of available calendar languages (ISO 639-1).
var SupportedLanguages = []string{"en", "fr"}

// -----------------------------------------------------------------------------
// Standards: iCalendar & vCard
// -----------------------------------------------------------------------------

const (
	// iCal Properties
	ICalVersion   = "2.0"
	ICalProdid    = "-//MMM-CardDavBirthdaysProvider//Engine//EN"
	ICalScale     = "GREGORIAN"
	ICalMethod    = "PUBLISH"
	ICalComponent = "VALARM"
	ICalAction    = "DISPLAY"

	PropUID         = "UID"
	PropSummary     = "SUMMARY"
	PropDescription = "DESCRIPTION"
	PropDTStart     = "DTSTART"
	PropDTStamp     = "DTSTAMP"
	PropRefresh     = "REFRESH-INTERVAL"
	PropAction      = "ACTION"
	PropTrigger     = "TRIGGER"
	PropVersion     = "VERSION"
	PropProdid      = "PRODID"
	PropXWRCalName  = "X-WR-CALNAME"
	PropCalScale    = "CALSCALE"
	PropMethod      = "METHOD"

	// BirthdayFieldPrefix matches BDAY and its parameterized variants.
	VCardBDAY           = "BDAY"
	VCardFN             = "FN"
	BirthdayFieldPrefix = VCardBDAY

	DefaultICalRefresh = 1 * time.Hour

	// UIDNamespace seeds the UUIDv5 event identifiers.
	UIDNamespace = "carddav-birthdays.local"
	FormatUIDKey = "%s|%s|%s"
)

// -----------------------------------------------------------------------------
// Data Formats & Limits
// -----------------------------------------------------------------------------

const (
	DateFormatFullDash = "2006-01-02"

	// ISO8601 duration components accepted for reminder triggers.
	ISOPeriodPrefix   = "P"
	ISONegativePrefix = "-P"
)

// -----------------------------------------------------------------------------
// Network & Timeouts
// -----------------------------------------------------------------------------

const (
	HTTPTimeout         = 30 * time.Second
	ShutdownTimeout     = 5 * time.Second
	ServerReadTimeout   = 10 * time.Second
	ServerWriteTimeout  = 30 * time.Second
	ServerIdleTimeout   = 60 * time.Second
	RetryAfterSeconds   = "10"
	AllowedMethods      = "GET, HEAD"
	MaxHTTPResponseSize = 256 * 1024 * 1024 // 256MB
	SchemeHTTP          = "http"
	SchemeHTTPS         = "https"
	RouteHealth         = "/health"
	SuffixJSON          = ".json"
	AuthRealm           = `Basic realm="` + AppName + `"`
)

// -----------------------------------------------------------------------------
// HTTP Headers & MIME Types
// -----------------------------------------------------------------------------

const (
	HeaderContentType     = "Content-Type"
	HeaderCacheControl    = "Cache-Control"
	HeaderETag            = "ETag"
	HeaderLastModified    = "Last-Modified"
	HeaderRetryAfter      = "Retry-After"
	HeaderAllow           = "Allow"
	HeaderXContentType    = "X-Content-Type-Options"
	HeaderUserAgent       = "User-Agent"
	HeaderIfNoneMatch     = "If-None-Match"
	HeaderIfModifiedSince = "If-Modified-Since"
	HeaderWWWAuthenticate = "WWW-Authenticate"

	MimeTextCalendar    = "text/calendar; charset=utf-8"
	MimeJSON            = "application/json; charset=utf-8"
	MimeNoSniff         = "nosniff"
	CacheControlPrivate = "private, no-cache"

	// FormatETag expects a string argument.
	FormatETag = `"%s"`
)

// -----------------------------------------------------------------------------
// Error Messages (Technical/Logs)
// -----------------------------------------------------------------------------

const (
	ErrConfigPathEmpty   = "config path is empty"
	ErrConfigRead        = "failed to read settings file"
	ErrConfigParse       = "failed to parse settings file"
	ErrConfigWrite       = "failed to write settings file"
	ErrConfigInvalid     = "invalid settings"
	ErrEnvPeriod         = "invalid refresh period in environment"
	ErrUnsupportedField  = "unsupported birthday field type"
	ErrUnrecognizedShape = "unrecognized birthday date shape"
	ErrInvalidDate       = "invalid calendar date"
	ErrAggregation       = "aggregation failed"
	ErrLogin             = "directory login failed"
	ErrListBooks         = "listing address books failed"
	ErrFetchRecords      = "fetching address book records failed"
	ErrConnect           = "creating directory client failed"
	ErrSourceUnsupported = "unsupported directory source"
	ErrAuthUnsupported   = "unsupported auth method"
	ErrLocalPathEmpty    = "local path is empty"
	ErrServerURLEmpty    = "server URL is empty"
	ErrInvalidURL        = "invalid URL structure"
	ErrProtocol          = "unsupported protocol scheme (http/https only)"
	ErrUnexpectedStatus  = "server returned unexpected status"
	ErrVCardDecode       = "failed to decode vCard"
	ErrVCardEncode       = "failed to encode vCard"
	ErrICalEncode        = "failed to encode iCalendar data"
	ErrReminderTrigger   = "invalid reminder trigger"
	ErrSchedule          = "invalid refresh schedule"
	ErrServerStartup     = "server startup failed"
	ErrServerShutdown    = "server shutdown failed"
	ErrListenRequired    = "listen address is required"
	ErrWriteResp         = "failed to write response body"
	ErrLogFile           = "failed to open log file"
	ErrCacheDir          = "could not determine user cache dir"
	ErrCreateDir         = "could not create app cache dir"
	ErrAppFailed         = "application failed unexpectedly"
	ErrOutputWrite       = "failed to write calendar output"
	ErrLocalesAccess     = "failed to access embedded locales"
	ErrLocaleLoad        = "failed to load locale file"
	ErrSettingsMissing   = "settings are required"
	ErrPublisherMissing  = "feed publisher is not initialized"
	ErrConnectorMissing  = "directory connector is not initialized"
)

// -----------------------------------------------------------------------------
// HTTP Server Responses
// -----------------------------------------------------------------------------

const (
	HTTPMsgInitializing = "Calendar initializing, please try again shortly."
	HTTPMsgMethodNotAll = "Method Not Allowed"
	HTTPMsgUnauthorized = "Unauthorized"
)

// -----------------------------------------------------------------------------
// Fallbacks & Messages
// -----------------------------------------------------------------------------

const (
	FallbackCalName     = "Birthdays"
	FallbackDescription = "Birthday of %s (%s)"

	// StubVCalendar is the minimal valid iCalendar object used when no events exist.
	StubVCalendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:" + ICalProdid + "\r\nEND:VCALENDAR\r\n"

	MsgAppStarting     = "Starting application"
	MsgAppStop         = "Application stopped gracefully"
	MsgConfigLoaded    = "Settings loaded"
	MsgConfigCreated   = "Settings file not found, default written"
	MsgEnvLoaded       = "Environment file loaded"
	MsgPassFail        = "Password retrieval failed (might be empty)"
	MsgLogWarning      = "Warning: %s at %s: %v\n"
	MsgPipelineStart   = "Refreshing birthdays"
	MsgPipelineDone    = "Refresh completed"
	MsgPipelineFailed  = "Refresh failed, keeping previous calendar"
	MsgLoginOK         = "Directory login succeeded"
	MsgBooksFound      = "Address books found"
	MsgBookFetched     = "Address book fetched"
	MsgSkippedRecord   = "Skipping record without usable birthday"
	MsgSkippedCard     = "Skipping malformed vCard"
	MsgListEmpty       = "Birthday list is empty, keeping previous calendar"
	MsgPublishEmpty    = "Birthday list is empty, publishing empty calendar"
	MsgBirthdaysFound  = "Birthdays found"
	MsgGenSuccess      = "Calendar generation successful"
	MsgSchedArmed      = "Scheduler armed"
	MsgSchedIgnored    = "Scheduler already configured, ignoring configuration"
	MsgSchedNotArmed   = "No data refresh, scheduler not configured"
	MsgSchedNext       = "Next refresh scheduled"
	MsgSchedStop       = "Scheduler stopping due to context cancellation"
	MsgSchedCoalesced  = "Refresh already pending"
	MsgServerListen    = "HTTP server listening"
	MsgServerStop      = "Shutting down HTTP server..."
	MsgCacheUpdated    = "Calendar cache updated"
	MsgAuthRejected    = "Feed request rejected"
	MsgLocaleSkip      = "Skipping non-locale file"
	MsgLocaleBadName   = "Skipping malformed locale filename"
	MsgLocaleLoaded    = "Locale loaded successfully"
	MsgTransMissing    = "Missing translation key"
	MsgDownloadStart   = "Initiating vCard download"
	MsgDownloadStatus  = "Server returned error status"
	MsgDownloading     = "vCards downloading"
	MsgBodyTruncated   = "Response exceeded size limit, address book is incomplete"
	MsgOutputWritten   = "Calendar written"
	MsgNothingToOutput = "No birthdays found, writing empty calendar"
)

// -----------------------------------------------------------------------------
// Translation Keys (I18n)
// -----------------------------------------------------------------------------

const (
	TKeyCalName          = "calendar_name"
	TKeyEvtDescription   = "event_description"    // Requires Name, Book
	TKeyEvtDescriptionYr = "event_description_yr" // Requires Name, Book, Year
)

// -----------------------------------------------------------------------------
// Structured Logging Keys (slog)
// -----------------------------------------------------------------------------

const (
	LogKeyComponent = "component"
	LogKeyError     = "error"
	LogKeyURL       = "url"
	LogKeyStatus    = "status_code"
	LogKeyFile      = "file"
	LogKeyLang      = "lang"
	LogKeyKey       = "key"
	LogKeyListen    = "listen"
	LogKeySource    = "source"
	LogKeyAuth      = "auth_method"
	LogKeyPeriod    = "period"
	LogKeyNext      = "next_run"
	LogKeyState     = "state"
	LogKeyUser      = "user"
	LogKeyBook      = "address_book"
	LogKeyBooks     = "address_books"
	LogKeyRecords   = "records"
	LogKeyFound     = "birthdays_found"
	LogKeyEvents    = "events"
	LogKeyYearly    = "yearly"
	LogKeySizeBytes = "size_bytes"
	LogKeyETag      = "etag"
	LogKeyValue     = "value"
	LogKeyReason    = "reason"
	LogKeyAsOf      = "as_of"
	LogKeyDuration  = "duration_ms"
	LogKeyLength    = "content_length"
	LogKeyLimit     = "limit_bytes"
	LogKeyPath      = "path"

	// Startup Info Keys
	LogKeyBuild   = "build"
	LogKeyApp     = "app"
	LogKeyVersion = "version"
	LogKeyGoVer   = "go_version"
	LogKeyEnv     = "env"
	LogKeyOS      = "os"
	LogKeyArch    = "arch"
	LogKeyPID     = "pid"
)

// -----------------------------------------------------------------------------
// Log Components
// -----------------------------------------------------------------------------

const (
	CompEngine    = "engine"
	CompParser    = "parser"
	CompDirectory = "directory"
	CompServer    = "server"
	CompScheduler = "scheduler"
	CompConfig    = "config"
	CompMain      = "main"
	CompI18n      = "i18n"
)
