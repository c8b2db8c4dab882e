package risk

// correlationGroups maps assets that tend to move together to a shared group.
// Assets not listed are only correlated with themselves.
var correlationGroups = map[string]string{
	"frxEURUSD": "usd_majors",
	"frxGBPUSD": "usd_majors",
	"frxAUDUSD": "usd_majors",
	"frxNZDUSD": "usd_majors",
	"frxUSDCHF": "usd_majors",
	"frxUSDCAD": "usd_majors",

	"frxUSDJPY": "yen_crosses",
	"frxEURJPY": "yen_crosses",
	"frxGBPJPY": "yen_crosses",
	"frxAUDJPY": "yen_crosses",

	"frxXAUUSD": "metals",
	"frxXAGUSD": "metals",
	"frxXPTUSD": "metals",

	"cryBTCUSD": "crypto",
	"cryETHUSD": "crypto",
	"cryLTCUSD": "crypto",

	"OTC_SPC": "us_indices",
	"OTC_NDX": "us_indices",
	"OTC_DJI": "us_indices",
}

func correlationGroup(asset string) string {
	if g, ok := correlationGroups[asset]; ok {
		return g
	}
	return asset
}

func correlated(a, b string) bool {
	return correlationGroup(a) == correlationGroup(b)
}
