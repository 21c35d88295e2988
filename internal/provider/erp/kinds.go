package erp

// ItemKind is the ERP product bucket of a sale item
type ItemKind int

const (
	KindUnknown ItemKind = iota
	KindHotel
	KindFlight
	KindGround
	KindInsurance
	KindCruise
	KindTrain
	KindCarRental
	KindPackage
)

var itemKinds = map[string]ItemKind{
	"hotel":                 KindHotel,
	"accommodation":         KindHotel,
	"flight":                KindFlight,
	"aereo":                 KindFlight,
	"transfer":              KindGround,
	"ground_transportation": KindGround,
	"insurance":             KindInsurance,
	"seguro":                KindInsurance,
	"cruise":                KindCruise,
	"train_ticket":          KindTrain,
	"car_rental":            KindCarRental,
	"travel_package":        KindPackage,
	"custom":                KindPackage,
	"experiencia":           KindPackage,
}

// Kind maps a sale item type, including legacy aliases, to its bucket
func Kind(itemType string) ItemKind {
	return itemKinds[itemType]
}
