package geo

import "strings"

// countryNames covers the ISO 3166-1 alpha-2 codes that providers returning
// only a code (ipinfo.io) commonly emit.
var countryNames = map[string]string{
	"AE": "United Arab Emirates",
	"AR": "Argentina",
	"AT": "Austria",
	"AU": "Australia",
	"BD": "Bangladesh",
	"BE": "Belgium",
	"BG": "Bulgaria",
	"BR": "Brazil",
	"CA": "Canada",
	"CH": "Switzerland",
	"CL": "Chile",
	"CN": "China",
	"CO": "Colombia",
	"CZ": "Czechia",
	"DE": "Germany",
	"DK": "Denmark",
	"EG": "Egypt",
	"ES": "Spain",
	"FI": "Finland",
	"FR": "France",
	"GB": "United Kingdom",
	"GR": "Greece",
	"HK": "Hong Kong",
	"HU": "Hungary",
	"ID": "Indonesia",
	"IE": "Ireland",
	"IL": "Israel",
	"IN": "India",
	"IT": "Italy",
	"JP": "Japan",
	"KE": "Kenya",
	"KR": "South Korea",
	"MA": "Morocco",
	"MX": "Mexico",
	"MY": "Malaysia",
	"NG": "Nigeria",
	"NL": "Netherlands",
	"NO": "Norway",
	"NZ": "New Zealand",
	"PE": "Peru",
	"PH": "Philippines",
	"PK": "Pakistan",
	"PL": "Poland",
	"PT": "Portugal",
	"RO": "Romania",
	"RU": "Russia",
	"SA": "Saudi Arabia",
	"SE": "Sweden",
	"SG": "Singapore",
	"TH": "Thailand",
	"TR": "Turkey",
	"TW": "Taiwan",
	"UA": "Ukraine",
	"US": "United States",
	"VN": "Vietnam",
	"ZA": "South Africa",
}

// CountryName returns the English name for an ISO alpha-2 code, or the
// upper-cased code itself when the code is not in the table.
func CountryName(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if name, ok := countryNames[code]; ok {
		return name
	}
	return code
}
