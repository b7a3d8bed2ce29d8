package kpi

import "strings"

// Category partitions coefficients by class of rail line.
type Category string

const (
	HighSpeed    Category = "high_speed"
	Conventional Category = "conventional"
	Metropolitan Category = "metropolitan"
)

// Categories lists the built-in rail categories.
var Categories = []Category{HighSpeed, Conventional, Metropolitan}

// Indicator is a KPI code as stored in the coefficient table.
type Indicator string

const (
	PhysicalAccess      Indicator = "PAI"
	TimeAccess          Indicator = "TAI"
	EconomicAccess      Indicator = "EAI"
	TrainFrequency      Indicator = "TF"
	ScheduledSpeed      Indicator = "TV"
	OnTimePerformance   Indicator = "TOTP"
	TransferConvenience Indicator = "TCI"
	StationComfort      Indicator = "SC"
	TrainComfort        Indicator = "TC"
	TransferComfort     Indicator = "TPC"
)

// Indicators lists every known KPI code.
var Indicators = []Indicator{
	PhysicalAccess, TimeAccess, EconomicAccess, TrainFrequency, ScheduledSpeed,
	OnTimePerformance, TransferConvenience, StationComfort, TrainComfort, TransferComfort,
}

var indicatorNames = map[Indicator]string{
	PhysicalAccess:      "physical accessibility",
	TimeAccess:          "time accessibility",
	EconomicAccess:      "economic accessibility",
	TrainFrequency:      "train frequency",
	ScheduledSpeed:      "scheduled speed",
	OnTimePerformance:   "on-time performance",
	TransferConvenience: "transfer convenience",
	StationComfort:      "station comfort",
	TrainComfort:        "train comfort",
	TransferComfort:     "transfer facility comfort",
}

// Name returns a human-readable label, or the code itself when unknown.
func (i Indicator) Name() string {
	if n, ok := indicatorNames[i]; ok {
		return n
	}
	return string(i)
}

// Composite reports whether the indicator's value is aggregated by formula
// rather than measured directly.
func (i Indicator) Composite() bool {
	return i == PhysicalAccess || i == TransferConvenience
}

// indicatorAliases maps the full Korean KPI names used in survey sheets.
var indicatorAliases = map[string]Indicator{
	"물리적 접근성":   PhysicalAccess,
	"시간적 접근성":   TimeAccess,
	"경제적 접근성":   EconomicAccess,
	"운행횟수":      TrainFrequency,
	"표정속도":      ScheduledSpeed,
	"열차운행 정시성":  OnTimePerformance,
	"환승시설 편의성":  TransferConvenience,
	"역사 시설 쾌적성": StationComfort,
	"열차이용 쾌적성":  TrainComfort,
	"환승시설 쾌적성":  TransferComfort,
}

// NormalizeIndicator trims and upper-cases a KPI code so "Tv" and "TV" match.
// Full Korean indicator names resolve to their codes.
func NormalizeIndicator(code string) Indicator {
	code = strings.TrimSpace(code)
	if ind, ok := indicatorAliases[code]; ok {
		return ind
	}
	return Indicator(strings.ToUpper(code))
}

// Access modes used by the physical-access index.
const (
	ModeWalk       = "walk"
	ModeTaxi       = "taxi"
	ModeCar        = "car"
	ModeBicycle    = "bicycle"
	ModeSharedPM   = "shared_pm"
	ModeLocalBus   = "local_bus"
	ModeExpressBus = "express_bus"
	ModeSubway     = "subway"
)

// Transfer modes used by the transfer-convenience index.
const (
	TransferTransit = "transit"
	TransferWalk    = "walk"
	TransferCar     = "car"
	TransferDropOff = "taxi_dropoff"
	TransferPM      = "pm"
)

// AccessModes lists physical-access modes in display order.
var AccessModes = []string{
	ModeWalk, ModeTaxi, ModeCar, ModeBicycle, ModeSharedPM, ModeLocalBus, ModeExpressBus, ModeSubway,
}

// TransferModes lists transfer-convenience modes in display order.
var TransferModes = []string{TransferTransit, TransferWalk, TransferCar, TransferDropOff, TransferPM}

// categoryAliases maps the Korean labels used in survey exports onto the
// category codes.
var categoryAliases = map[string]Category{
	"고속철도": HighSpeed,
	"일반철도": Conventional,
	"광역철도": Metropolitan,
}

// NormalizeCategory trims and lower-cases a category code, translating known
// Korean labels. Unknown categories are kept so custom rail types can still
// be stored.
func NormalizeCategory(s string) Category {
	s = strings.TrimSpace(s)
	if c, ok := categoryAliases[s]; ok {
		return c
	}
	return Category(strings.ToLower(s))
}

var modeAliases = map[string]string{
	"도보":       ModeWalk,
	"택시":       ModeTaxi,
	"승용차":      ModeCar,
	"자전거":      ModeBicycle,
	"공유PM":     ModeSharedPM,
	"마을/시내버스":  ModeLocalBus,
	"광역버스":     ModeExpressBus,
	"지하철/광역철도": ModeSubway,
	"대중교통":     TransferTransit,
	"택시/배웅":    TransferDropOff,
	"PM":       TransferPM,
}

// NormalizeMode translates known Korean mode labels; anything else is trimmed
// and returned as is.
func NormalizeMode(s string) string {
	s = strings.TrimSpace(s)
	if m, ok := modeAliases[s]; ok {
		return m
	}
	return s
}

var categoryFileCodes = map[Category]string{
	HighSpeed:    "H",
	Conventional: "L",
	Metropolitan: "W",
}

// FileCode is the single-letter suffix used in survey file names
// (<KPI>_<code>.csv). Custom categories have none.
func (c Category) FileCode() (string, bool) {
	code, ok := categoryFileCodes[c]
	return code, ok
}
