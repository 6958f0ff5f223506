package http

// Verifier checks login credentials or registers a new user
type Verifier interface {
	Verify(name, password string, login bool) bool
}

// Site describes what is served and how requests map onto it.
// It is shared read-only by every connection.
type Site struct {
	// Root is the absolute served directory, without trailing slash
	Root string

	// DefaultDocument replaces a bare "/" path
	DefaultDocument string

	// Pages are extensionless paths that gain an .html suffix
	Pages map[string]struct{}

	// Form posts to LoginPage or RegisterPage go through Verifier and
	// are answered with WelcomePage on success, FailurePage otherwise.
	LoginPage    string
	RegisterPage string
	WelcomePage  string
	FailurePage  string
	Verifier     Verifier

	// ErrorPages maps a status code to the page served with it
	ErrorPages map[int]string

	// LegacyFormDecoding rewrites %XX escapes into two decimal digit
	// characters in place instead of decoding them to bytes.
	LegacyFormDecoding bool

	// Advisory values sent in the keep-alive header
	KeepAliveMax     int
	KeepAliveTimeout int

	// MaxRequestSize bounds a request that has not completed yet
	MaxRequestSize int
}

// NewSite returns a Site serving root with the stock pages
func NewSite(root string) *Site {
	return &Site{
		Root:            root,
		DefaultDocument: "/index.html",
		Pages: map[string]struct{}{
			"/index":    {},
			"/register": {},
			"/login":    {},
			"/welcome":  {},
			"/video":    {},
			"/picture":  {},
		},
		LoginPage:    "/login.html",
		RegisterPage: "/register.html",
		WelcomePage:  "/welcome.html",
		FailurePage:  "/error.html",
		ErrorPages: map[int]string{
			400: "/400.html",
			403: "/403.html",
			404: "/404.html",
		},
		KeepAliveMax:     6,
		KeepAliveTimeout: 120,
		MaxRequestSize:   64 * 1024,
	}
}
