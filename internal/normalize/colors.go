package normalize

// colorTable maps folded, lowercased color names from the supported source
// languages (es, pt, en) to canonical English names.
var colorTable = map[string]string{
	"negro":            "black",
	"preto":            "black",
	"blanco":           "white",
	"branco":           "white",
	"azul":             "blue",
	"rojo":             "red",
	"vermelho":         "red",
	"verde":            "green",
	"amarillo":         "yellow",
	"amarelo":          "yellow",
	"rosa":             "pink",
	"morado":           "purple",
	"roxo":             "purple",
	"lila":             "purple",
	"gris":             "gray",
	"cinza":            "gray",
	"cinzento":         "gray",
	"grey":             "gray",
	"plata":            "silver",
	"prateado":         "silver",
	"prata":            "silver",
	"oro":              "gold",
	"dourado":          "gold",
	"naranja":          "orange",
	"laranja":          "orange",
	"marron":           "brown",
	"castanho":         "brown",
	"bege":             "beige",
	"grafito":          "graphite",
	"grafite":          "graphite",
	"titanio":          "titanium",
	"blanco estrella":  "starlight",
	"luz estelar":      "starlight",
	"medianoche":       "midnight",
	"meia-noite":       "midnight",
	"meia noite":       "midnight",
	"titanio natural":  "natural titanium",
	"gris espacial":    "space gray",
	"cinzento sideral": "space gray",
	"space grey":       "space gray",
	"negro espacial":   "space black",
	"preto sideral":    "space black",
}

// canonicalColors are accepted as-is.
var canonicalColors = map[string]bool{
	"black":            true,
	"white":            true,
	"blue":             true,
	"red":              true,
	"green":            true,
	"yellow":           true,
	"pink":             true,
	"purple":           true,
	"gray":             true,
	"silver":           true,
	"gold":             true,
	"orange":           true,
	"brown":            true,
	"beige":            true,
	"graphite":         true,
	"titanium":         true,
	"starlight":        true,
	"midnight":         true,
	"natural titanium": true,
	"space gray":       true,
	"space black":      true,
	"multicolor":       true,
}
