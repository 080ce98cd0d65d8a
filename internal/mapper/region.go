package mapper

import "strings"

// regionMap maps vendor display locations to region codes. Keys are
// lower-cased; values must never themselves be keys mapping elsewhere.
var regionMap = map[string]string{
	"global":               "global",
	"ca central":           "canadacentral",
	"ca east":              "canadaeast",
	"canada central":       "canadacentral",
	"canada east":          "canadaeast",
	"us east":              "eastus",
	"east us":              "eastus",
	"east us2":             "eastus2",
	"east us 2":            "eastus2",
	"us east 2":            "eastus2",
	"us west":              "westus",
	"west us":              "westus",
	"west us 2":            "westus2",
	"us west 2":            "westus2",
	"west us 3":            "westus3",
	"central us":           "centralus",
	"us central":           "centralus",
	"north central us":     "northcentralus",
	"south central us":     "southcentralus",
	"west central us":      "westcentralus",
	"kr central":           "koreacentral",
	"korea central":        "koreacentral",
	"kr south":             "koreasouth",
	"korea south":          "koreasouth",
	"jp east":              "japaneast",
	"japan east":           "japaneast",
	"jp west":              "japanwest",
	"japan west":           "japanwest",
	"ap east":              "eastasia",
	"east asia":            "eastasia",
	"ap southeast":         "southeastasia",
	"southeast asia":       "southeastasia",
	"eu west":              "westeurope",
	"west europe":          "westeurope",
	"eu north":             "northeurope",
	"north europe":         "northeurope",
	"uk south":             "uksouth",
	"uk west":              "ukwest",
	"fr central":           "francecentral",
	"france central":       "francecentral",
	"de west central":      "germanywestcentral",
	"germany west central": "germanywestcentral",
	"au east":              "australiaeast",
	"australia east":       "australiaeast",
	"au southeast":         "australiasoutheast",
	"australia southeast":  "australiasoutheast",
	"in central":           "centralindia",
	"central india":        "centralindia",
	"br south":             "brazilsouth",
	"brazil south":         "brazilsouth",
}

// NormalizeRegion maps a vendor location to a region code. Lookup is
// case-insensitive; unknown locations are returned lower-cased. The function
// is idempotent.
func NormalizeRegion(location string) string {
	key := strings.ToLower(strings.TrimSpace(location))
	if code, ok := regionMap[key]; ok {
		return code
	}
	return key
}
