package validate

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator"
)

// MaxUploadSize is the largest accepted upload in bytes.
const MaxUploadSize = 50 << 20

const maxFilenameLength = 128

// dangerousFilenameChars are rejected outright in uploaded filenames.
const dangerousFilenameChars = `<>:"|?*\/`

var (
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	tenantPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)
)

// allowedExtensions lists the file types the ingestion pipeline can process.
var allowedExtensions = map[string]bool{
	".txt":  true,
	".pdf":  true,
	".docx": true,
	".md":   true,
	".html": true,
	".csv":  true,
	".xlsx": true,
}

// executableExtensions are rejected anywhere inside a filename so that a
// name like "report.exe.pdf" cannot smuggle an executable past the
// extension allowlist.
var executableExtensions = map[string]bool{
	".exe": true,
	".bat": true,
	".cmd": true,
	".com": true,
	".msi": true,
	".scr": true,
	".dll": true,
	".sh":  true,
	".ps1": true,
	".js":  true,
	".vbs": true,
	".jar": true,
}

// Email reports whether the address has a plausible mailbox format.
func Email(address string) bool {
	return emailPattern.MatchString(address)
}

// TenantID reports whether the identifier is a usable tenant name.
func TenantID(id string) bool {
	return tenantPattern.MatchString(id)
}

// Password checks the password policy and returns one message per violated
// rule. An empty result means the password is acceptable.
func Password(password string) []string {
	var issues []string
	if len(password) < 8 {
		issues = append(issues, "Password must be at least 8 characters long")
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		issues = append(issues, "Password must contain at least one uppercase letter")
	}
	if !hasLower {
		issues = append(issues, "Password must contain at least one lowercase letter")
	}
	if !hasDigit {
		issues = append(issues, "Password must contain at least one digit")
	}
	return issues
}

// SanitizeText strips control characters from free-form user input, trims
// surrounding whitespace and truncates the result to maxLen runes. A maxLen
// of zero or less disables truncation.
func SanitizeText(input string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(out)
		if len(runes) > maxLen {
			out = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return out
}

// SanitizeFilename reduces a client-supplied filename to a safe basename for
// storage keys. Path components are stripped, anything outside a conservative
// charset is replaced with "_" and overly long names are truncated while
// keeping the extension.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_' || r == ' ':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name = strings.Trim(b.String(), ". ")
	if name == "" {
		return "file"
	}
	if len(name) > maxFilenameLength {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:maxFilenameLength-len(ext)] + ext
	}
	return name
}

// CheckUpload validates a single upload against the ingestion rules and
// returns one message per problem found. An empty result means the file is
// accepted.
func CheckUpload(filename string, size int64) []string {
	if strings.TrimSpace(filename) == "" {
		return []string{"Filename is missing"}
	}

	var issues []string
	if size > MaxUploadSize {
		issues = append(issues, fmt.Sprintf("File exceeds the maximum size of %dMB", MaxUploadSize>>20))
	}
	if size <= 0 {
		issues = append(issues, "File is empty")
	}
	if strings.ContainsAny(filename, dangerousFilenameChars) {
		issues = append(issues, "Filename contains invalid characters")
	}
	ext := strings.ToLower(path.Ext(filename))
	switch {
	case ext == "":
		issues = append(issues, "File has no extension")
	case !allowedExtensions[ext]:
		issues = append(issues, fmt.Sprintf("File type %q is not supported", ext))
	}
	if hidden := disguisedExtension(filename); hidden != "" {
		issues = append(issues, fmt.Sprintf("Filename hides a %q extension", hidden))
	}
	return issues
}

// disguisedExtension returns the first executable extension buried between
// the base name and the final extension, or "" when the name is clean.
func disguisedExtension(filename string) string {
	parts := strings.Split(strings.ToLower(filename), ".")
	if len(parts) < 3 {
		return ""
	}
	for _, part := range parts[1 : len(parts)-1] {
		if executableExtensions["."+part] {
			return "." + part
		}
	}
	return ""
}

// Register installs the custom validation tags used by request structs.
func Register(v *validator.Validate) error {
	if err := v.RegisterValidation("tenant_id", func(fl validator.FieldLevel) bool {
		return TenantID(fl.Field().String())
	}); err != nil {
		return err
	}
	if err := v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return len(Password(fl.Field().String())) == 0
	}); err != nil {
		return err
	}
	return v.RegisterValidation("safe_filename", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		return name != "" && name == SanitizeFilename(name)
	})
}
