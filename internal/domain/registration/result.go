package registration

// Default demographic values sent when a worker does not supply them.
const (
	DefaultCountry  = "1"
	DefaultProvince = "11"
	DefaultCity     = "1"
	DefaultBirth    = "1990-1-1"
	DefaultGender   = "1"
	DefaultNongli   = "0"
)

// Demographics are the profile fields submitted alongside new credentials.
type Demographics struct {
	Country  string `json:"country,omitempty"`
	Province string `json:"province,omitempty"`
	City     string `json:"city,omitempty"`
	Birth    string `json:"birth,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Nongli   string `json:"nongli,omitempty"`
	Region   string `json:"region,omitempty"`
}

// RegistrationResult is what a successful worker hands back.
type RegistrationResult struct {
	UIN      string `json:"uin"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Nickname string `json:"nick,omitempty"`
	Demographics
}

// WithDefaults returns a copy with every empty demographic field defaulted.
// region falls back to the client's configured region.
func (r RegistrationResult) WithDefaults(region string) RegistrationResult {
	d := &r.Demographics
	setDefault(&d.Country, DefaultCountry)
	setDefault(&d.Province, DefaultProvince)
	setDefault(&d.City, DefaultCity)
	setDefault(&d.Birth, DefaultBirth)
	setDefault(&d.Gender, DefaultGender)
	setDefault(&d.Nongli, DefaultNongli)
	setDefault(&d.Region, region)
	return r
}

func setDefault(field *string, v string) {
	if *field == "" {
		*field = v
	}
}
