package boundary

import "fmt"

// Province colors, indexed by ISO 3166-2:LK province number - 1.
var provinceColors = []string{
	"red",    // LK-1 Western
	"green",  // LK-2 Central
	"gold",   // LK-3 Southern
	"orange", // LK-4 Northern
	"purple", // LK-5 Eastern
	"yellow", // LK-6 North Western
	"brown",  // LK-7 North Central
	"pink",   // LK-8 Uva
	"cyan",   // LK-9 Sabaragamuwa
}

// ISO 3166-2:LK district codes; the first digit is the parent province.
var districtCodes = []int{
	11, 12, 13, // Colombo, Gampaha, Kalutara
	21, 22, 23, // Kandy, Matale, Nuwara Eliya
	31, 32, 33, // Galle, Matara, Hambantota
	41, 42, 43, 44, 45, // Jaffna, Kilinochchi, Mannar, Vavuniya, Mullaitivu
	51, 52, 53, // Batticaloa, Ampara, Trincomalee
	61, 62, // Kurunegala, Puttalam
	71, 72, // Anuradhapura, Polonnaruwa
	81, 82, // Badulla, Monaragala
	91, 92, // Ratnapura, Kegalle
}

// Parent province of each electoral district, ED-01 through ED-22.
var electoralProvinces = []int{
	1, 1, 1, // Colombo, Gampaha, Kalutara
	2, 2, 2, // Mahanuwara, Matale, Nuwara Eliya
	3, 3, 3, // Galle, Matara, Hambantota
	4, 4, // Jaffna, Vanni
	5, 5, 5, // Batticaloa, Digamadulla, Trincomalee
	6, 6, // Kurunegala, Puttalam
	7, 7, // Anuradhapura, Polonnaruwa
	8, 8, // Badulla, Monaragala
	9, 9, // Ratnapura, Kegalle
}

// Colors for the fine-grained divisions, cycled per district file.
var divisionPalette = []string{
	"teal", "olive", "navy", "maroon", "darkgreen", "crimson", "darkorange", "indigo",
}

func builtinCategories() []Category {
	provinces := make([]LayerSource, 0, len(provinceColors))
	for i, color := range provinceColors {
		provinces = append(provinces, LayerSource{
			Path:  fmt.Sprintf("/provinces/LK-%d.json", i+1),
			Color: color,
		})
	}

	var districts, gnd, lg []LayerSource
	for i, code := range districtCodes {
		districts = append(districts, LayerSource{
			Path:  fmt.Sprintf("/districts/LK-%d.json", code),
			Color: provinceColors[code/10-1],
		})
		gnd = append(gnd, LayerSource{
			Path:  fmt.Sprintf("/gnd/LK-%d.json", code),
			Color: divisionPalette[i%len(divisionPalette)],
		})
		lg = append(lg, LayerSource{
			Path:  fmt.Sprintf("/lg/LK-%d.json", code),
			Color: divisionPalette[(i+len(divisionPalette)/2)%len(divisionPalette)],
		})
	}

	var ed []LayerSource
	for i, province := range electoralProvinces {
		ed = append(ed, LayerSource{
			Path:  fmt.Sprintf("/ed/ED-%02d.json", i+1),
			Color: provinceColors[province-1],
		})
	}

	return []Category{
		{ID: "provinces", Label: "Provinces", Sources: provinces},
		{ID: "districts", Label: "Districts", Sources: districts},
		{ID: "ed", Label: "ED", Sources: ed},
		{ID: "gnd", Label: "GND", Sources: gnd},
		{ID: "lg", Label: "LG", Sources: lg},
	}
}
