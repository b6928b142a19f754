// Command kardex-seed loads development fixtures through the admin API:
// businesses, their sites and employees, and sample upload access links.
// It mints its own admin tokens, so it needs the server's JWT secret and is
// strictly a development tool.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/kardex-io/kardex/internal/models"
)

type fixtureFile struct {
	Businesses []businessFixture `yaml:"businesses"`
}

type businessFixture struct {
	Name        string            `yaml:"name"`
	Code        string            `yaml:"code"`
	Sites       []siteFixture     `yaml:"sites"`
	Employees   []employeeFixture `yaml:"employees"`
	UploadLinks []linkFixture     `yaml:"upload_links"`
}

type siteFixture struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
	// ResponsibleEmployee names the employee (by full name) set as the
	// site's upload contact after employees are created.
	ResponsibleEmployee string `yaml:"responsible_employee"`
}

type employeeFixture struct {
	FullName   string `yaml:"full_name"`
	PassportID string `yaml:"passport_id"`
	Phone      string `yaml:"phone"`
	Site       string `yaml:"site"` // site code
}

type linkFixture struct {
	Site            string `yaml:"site"`     // site code
	Employee        string `yaml:"employee"` // full name
	ProcessingMonth string `yaml:"processing_month"`
}

// Seeder posts fixtures to a running kardex server.
type Seeder struct {
	baseURL string
	secret  []byte
	client  *http.Client
	logger  arbor.ILogger
}

func NewSeeder(baseURL string, secret []byte, logger arbor.ILogger) *Seeder {
	return &Seeder{
		baseURL: baseURL,
		secret:  secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// mintToken signs a short-lived admin token for one business. The server
// only checks the signature and claims, so the seeder can scope itself to
// each business it creates.
func (s *Seeder) mintToken(businessID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":         "kardex-seed",
		"business_id": businessID,
		"role":        models.RoleAdmin,
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// post sends an authenticated JSON request and returns the envelope's data.
func (s *Seeder) post(method, path, token string, payload interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequest(method, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Success bool                   `json:"success"`
		Message string                 `json:"message"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding %s response (status %d): %w", path, resp.StatusCode, err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("%s %s failed (status %d): %s", method, path, resp.StatusCode, envelope.Message)
	}
	return envelope.Data, nil
}

// id digs data[key]["id"] out of a response envelope.
func id(data map[string]interface{}, key string) (string, error) {
	record, ok := data[key].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("response missing %q", key)
	}
	value, ok := record["id"].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("response %q has no id", key)
	}
	return value, nil
}

// Run seeds every business in the fixture file.
func (s *Seeder) Run(fixtures *fixtureFile) error {
	// Business creation needs any authenticated admin; the claim's business
	// scope is irrelevant for that one call.
	bootstrapToken, err := s.mintToken("bootstrap")
	if err != nil {
		return fmt.Errorf("minting bootstrap token: %w", err)
	}

	for _, biz := range fixtures.Businesses {
		if err := s.seedBusiness(bootstrapToken, biz); err != nil {
			return fmt.Errorf("seeding business %q: %w", biz.Name, err)
		}
	}
	return nil
}

func (s *Seeder) seedBusiness(bootstrapToken string, biz businessFixture) error {
	data, err := s.post("POST", "/api/businesses", bootstrapToken, map[string]interface{}{
		"name": biz.Name,
		"code": biz.Code,
	})
	if err != nil {
		return err
	}
	businessID, err := id(data, "business")
	if err != nil {
		return err
	}
	s.logger.Info().Str("business_id", businessID).Str("name", biz.Name).Msg("Business created")

	token, err := s.mintToken(businessID)
	if err != nil {
		return fmt.Errorf("minting business token: %w", err)
	}

	// Sites first, without responsible employees: employees reference sites,
	// and the responsible contact references an employee, so that edge is
	// patched in afterwards.
	siteIDs := make(map[string]string) // code -> id
	for _, site := range biz.Sites {
		data, err := s.post("POST", "/api/sites", token, map[string]interface{}{
			"name": site.Name,
			"code": site.Code,
		})
		if err != nil {
			return err
		}
		siteID, err := id(data, "site")
		if err != nil {
			return err
		}
		siteIDs[site.Code] = siteID
		s.logger.Info().Str("site_id", siteID).Str("name", site.Name).Msg("Site created")
	}

	employeeIDs := make(map[string]string) // full name -> id
	for _, emp := range biz.Employees {
		payload := map[string]interface{}{
			"full_name":   emp.FullName,
			"passport_id": emp.PassportID,
		}
		if emp.Phone != "" {
			payload["phone"] = emp.Phone
		}
		if emp.Site != "" {
			siteID, ok := siteIDs[emp.Site]
			if !ok {
				return fmt.Errorf("employee %q references unknown site code %q", emp.FullName, emp.Site)
			}
			payload["site_id"] = siteID
		}

		data, err := s.post("POST", "/api/employees", token, payload)
		if err != nil {
			return err
		}
		employeeID, err := id(data, "employee")
		if err != nil {
			return err
		}
		employeeIDs[emp.FullName] = employeeID
		s.logger.Info().Str("employee_id", employeeID).Str("name", emp.FullName).Msg("Employee created")
	}

	for _, site := range biz.Sites {
		if site.ResponsibleEmployee == "" {
			continue
		}
		employeeID, ok := employeeIDs[site.ResponsibleEmployee]
		if !ok {
			return fmt.Errorf("site %q references unknown employee %q", site.Code, site.ResponsibleEmployee)
		}
		if _, err := s.post("PUT", "/api/sites/"+siteIDs[site.Code], token, map[string]interface{}{
			"responsible_employee_id": employeeID,
		}); err != nil {
			return err
		}
		s.logger.Info().Str("site", site.Code).Str("employee", site.ResponsibleEmployee).Msg("Responsible employee set")
	}

	for _, link := range biz.UploadLinks {
		siteID, ok := siteIDs[link.Site]
		if !ok {
			return fmt.Errorf("upload link references unknown site code %q", link.Site)
		}
		employeeID, ok := employeeIDs[link.Employee]
		if !ok {
			return fmt.Errorf("upload link references unknown employee %q", link.Employee)
		}

		data, err := s.post("POST", "/api/upload_access", token, map[string]interface{}{
			"site_id":          siteID,
			"employee_id":      employeeID,
			"processing_month": link.ProcessingMonth,
		})
		if err != nil {
			return err
		}
		portalURL, _ := data["portal_url"].(string)
		s.logger.Info().
			Str("site", link.Site).
			Str("employee", link.Employee).
			Str("month", link.ProcessingMonth).
			Str("portal_url", portalURL).
			Msg("Upload link created")
	}

	return nil
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Kardex server base URL")
	fixturesPath := flag.String("fixtures", "deployments/local/seed.yaml", "Fixture YAML file")
	secret := flag.String("secret", os.Getenv("JWT_SECRET_KEY"), "JWT signing secret (defaults to JWT_SECRET_KEY)")
	flag.Parse()

	logger := arbor.NewLogger()

	if *secret == "" {
		logger.Fatal().Msg("JWT secret required: pass -secret or set JWT_SECRET_KEY")
		os.Exit(1)
	}

	raw, err := os.ReadFile(*fixturesPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *fixturesPath).Msg("Failed to read fixture file")
		os.Exit(1)
	}

	var fixtures fixtureFile
	if err := yaml.Unmarshal(raw, &fixtures); err != nil {
		logger.Fatal().Err(err).Msg("Failed to parse fixture file")
		os.Exit(1)
	}
	if len(fixtures.Businesses) == 0 {
		logger.Fatal().Msg("Fixture file has no businesses")
		os.Exit(1)
	}

	seeder := NewSeeder(*serverURL, []byte(*secret), logger)
	if err := seeder.Run(&fixtures); err != nil {
		logger.Fatal().Err(err).Msg("Seeding failed")
		os.Exit(1)
	}

	logger.Info().Int("businesses", len(fixtures.Businesses)).Msg("Seeding complete")
}
