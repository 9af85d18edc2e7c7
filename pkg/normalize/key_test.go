package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"catalog-scraper/pkg/models"
)

func TestCanonicalProductURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "https://www.jumia.co.ke/phone-1.html", "https://www.jumia.co.ke/phone-1.html"},
		{"case", "HTTPS://WWW.Jumia.co.ke/Phone-1.html", "https://www.jumia.co.ke/Phone-1.html"},
		{"tracking query", "https://www.kilimall.co.ke/listing/42?source=search&pos=3", "https://www.kilimall.co.ke/listing/42"},
		{"fragment", "https://www.jumia.co.ke/phone-1.html#reviews", "https://www.jumia.co.ke/phone-1.html"},
		{"trailing slash", "https://www.kilimall.co.ke/listing/42/", "https://www.kilimall.co.ke/listing/42"},
		{"default port", "https://www.jumia.co.ke:443/p.html", "https://www.jumia.co.ke/p.html"},
		{"relative", "/phone-1.html", ""},
		{"not http", "javascript:void(0)", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalProductURL(tt.input))
		})
	}
}

func TestNaturalKey_URLVariantsCollapse(t *testing.T) {
	a := "https://www.jumia.co.ke/phone-1.html?utm=x"
	b := "HTTPS://www.jumia.co.ke/phone-1.html#top"

	assert.Equal(t,
		NaturalKey(models.PlatformJumia, &a, "Phone", nil),
		NaturalKey(models.PlatformJumia, &b, "Other name", nil))
}

func TestNaturalKey_PlatformScoped(t *testing.T) {
	u := "https://shop.example/p/1"
	assert.NotEqual(t,
		NaturalKey(models.PlatformJumia, &u, "x", nil),
		NaturalKey(models.PlatformKilimall, &u, "x", nil))
}

func TestNaturalKey_NamePriceFallback(t *testing.T) {
	price := int64(45000)
	other := int64(45001)
	bad := "/relative/only"

	k1 := NaturalKey(models.PlatformKilimall, nil, "Vitron  TV", &price)
	k2 := NaturalKey(models.PlatformKilimall, &bad, "vitron tv", &price)
	k3 := NaturalKey(models.PlatformKilimall, nil, "Vitron TV", &other)
	k4 := NaturalKey(models.PlatformKilimall, nil, "Vitron TV", nil)

	assert.True(t, strings.HasPrefix(k1, "kilimall:nk:"))
	assert.Equal(t, k1, k2, "unusable URL falls back; name compared case and space insensitively")
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
}
