// Package dataset loads King County house sale records and derives the
// above-median label used by the stacking classifier.
package dataset

// Column names of the house sales CSV.
const (
	ColID           = "id"
	ColDate         = "date"
	ColPrice        = "price"
	ColBedrooms     = "bedrooms"
	ColBathrooms    = "bathrooms"
	ColSqftLiving   = "sqft_living"
	ColSqftLot      = "sqft_lot"
	ColFloors       = "floors"
	ColWaterfront   = "waterfront"
	ColView         = "view"
	ColCondition    = "condition"
	ColGrade        = "grade"
	ColSqftAbove    = "sqft_above"
	ColSqftBasement = "sqft_basement"
	ColYrBuilt      = "yr_built"
	ColYrRenovated  = "yr_renovated"
	ColZipcode      = "zipcode"
	ColLat          = "lat"
	ColLong         = "long"
	ColSqftLiving15 = "sqft_living15"
	ColSqftLot15    = "sqft_lot15"
)

// AttributeColumns are the raw per-house attributes in CSV order. id, date and
// price are never attributes.
var AttributeColumns = []string{
	ColBedrooms, ColBathrooms, ColSqftLiving, ColSqftLot, ColFloors,
	ColWaterfront, ColView, ColCondition, ColGrade, ColSqftAbove,
	ColSqftBasement, ColYrBuilt, ColYrRenovated, ColZipcode, ColLat,
	ColLong, ColSqftLiving15, ColSqftLot15,
}

// RequiredColumns lists every column a sales CSV must carry.
var RequiredColumns = append([]string{ColID, ColDate, ColPrice}, AttributeColumns...)

// Record is one house sale.
type Record struct {
	ID    string
	Date  string
	Price float64

	Bedrooms     float64
	Bathrooms    float64
	SqftLiving   float64
	SqftLot      float64
	Floors       float64
	Waterfront   float64
	View         float64
	Condition    float64
	Grade        float64
	SqftAbove    float64
	SqftBasement float64
	YrBuilt      float64
	YrRenovated  float64
	Zipcode      float64
	Lat          float64
	Long         float64
	SqftLiving15 float64
	SqftLot15    float64
}

// Attributes returns the raw attributes keyed by column name.
func (r Record) Attributes() map[string]float64 {
	return map[string]float64{
		ColBedrooms:     r.Bedrooms,
		ColBathrooms:    r.Bathrooms,
		ColSqftLiving:   r.SqftLiving,
		ColSqftLot:      r.SqftLot,
		ColFloors:       r.Floors,
		ColWaterfront:   r.Waterfront,
		ColView:         r.View,
		ColCondition:    r.Condition,
		ColGrade:        r.Grade,
		ColSqftAbove:    r.SqftAbove,
		ColSqftBasement: r.SqftBasement,
		ColYrBuilt:      r.YrBuilt,
		ColYrRenovated:  r.YrRenovated,
		ColZipcode:      r.Zipcode,
		ColLat:          r.Lat,
		ColLong:         r.Long,
		ColSqftLiving15: r.SqftLiving15,
		ColSqftLot15:    r.SqftLot15,
	}
}

// setNumeric assigns a numeric column by name. It reports false for
// non-numeric or unknown columns.
func (r *Record) setNumeric(col string, v float64) bool {
	switch col {
	case ColPrice:
		r.Price = v
	case ColBedrooms:
		r.Bedrooms = v
	case ColBathrooms:
		r.Bathrooms = v
	case ColSqftLiving:
		r.SqftLiving = v
	case ColSqftLot:
		r.SqftLot = v
	case ColFloors:
		r.Floors = v
	case ColWaterfront:
		r.Waterfront = v
	case ColView:
		r.View = v
	case ColCondition:
		r.Condition = v
	case ColGrade:
		r.Grade = v
	case ColSqftAbove:
		r.SqftAbove = v
	case ColSqftBasement:
		r.SqftBasement = v
	case ColYrBuilt:
		r.YrBuilt = v
	case ColYrRenovated:
		r.YrRenovated = v
	case ColZipcode:
		r.Zipcode = v
	case ColLat:
		r.Lat = v
	case ColLong:
		r.Long = v
	case ColSqftLiving15:
		r.SqftLiving15 = v
	case ColSqftLot15:
		r.SqftLot15 = v
	default:
		return false
	}
	return true
}

// Prices returns the price of every record in order.
func Prices(records []Record) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Price
	}
	return out
}
