package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMeters(t *testing.T) {
	// Same point.
	assert.Zero(t, haversineMeters(51.5007, -0.1246, 51.5007, -0.1246))

	// Big Ben to the London Eye is roughly 420m.
	distance := haversineMeters(51.5007, -0.1246, 51.5033, -0.1196)
	assert.InDelta(t, 420, distance, 40)

	// One degree of latitude is ~111km everywhere.
	distance = haversineMeters(10, 20, 11, 20)
	assert.InDelta(t, 111195, distance, 500)
}

func TestRelevanceScore(t *testing.T) {
	assert.Zero(t, relevanceScore("", "Blue Cafe", "cafe"))

	assert.Equal(t, 3.0, relevanceScore("blue cafe", "Blue Cafe", "restaurant"))
	assert.Equal(t, 2.0, relevanceScore("blue", "Blue Cafe", "restaurant"))
	assert.Equal(t, 1.0, relevanceScore("cafe", "Blue Cafe", "restaurant"))
	assert.Zero(t, relevanceScore("sushi", "Blue Cafe", "restaurant"))

	// Category match stacks on top of the name match.
	assert.Equal(t, 1.5, relevanceScore("cafe", "Blue Cafe", "cafe"))
	assert.Equal(t, 0.5, relevanceScore("clinic", "Dr. Smith", "clinic"))
}

func TestShouldNotifyPosition(t *testing.T) {
	for p := 1; p <= 5; p++ {
		assert.True(t, shouldNotifyPosition(p), "position %d", p)
	}

	assert.True(t, shouldNotifyPosition(6))
	assert.False(t, shouldNotifyPosition(7))
	assert.True(t, shouldNotifyPosition(20))
	assert.False(t, shouldNotifyPosition(21))
	assert.True(t, shouldNotifyPosition(30))
	assert.False(t, shouldNotifyPosition(99))
	assert.True(t, shouldNotifyPosition(100))
	assert.False(t, shouldNotifyPosition(120))
	assert.True(t, shouldNotifyPosition(150))
}

func TestPositionMessage(t *testing.T) {
	assert.Equal(t, "You're next!", positionMessage(1))
	assert.Equal(t, "Almost there! You're #3", positionMessage(3))
	assert.Equal(t, "You are #42 in line", positionMessage(42))
}
