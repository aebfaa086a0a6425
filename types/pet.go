package types

import "time"

// Pet stat bounds and rule constants.
const (
	PetStatMin = 0
	PetStatMax = 100

	PetMaxLevel = 4

	// Resource claim rates: one food per 100 steps, two energy per 150.
	ClaimMinSteps       = 100
	ClaimFoodPerSteps   = 100
	ClaimEnergyPerSteps = 150

	feedHungerGain    = 25
	feedHappinessGain = 5
	feedExperience    = 10

	playHappinessGain = 15
	playHealthGain    = 3
	playExperience    = 5
)

// levelThresholds maps experience to level: level n requires
// levelThresholds[n-1] experience.
var levelThresholds = [...]uint64{100, 500, 2000, 5000}

// Pet is the per-device derived state. Local state is authoritative except
// for the bounded stats, which a successful chain response overwrites.
type Pet struct {
	Name           string    `json:"pet_name"`
	DeviceID       string    `json:"device_id"`
	Level          int       `json:"level"`
	Experience     uint64    `json:"experience"`
	TotalStepsFed  uint64    `json:"total_steps_fed"`
	Happiness      int       `json:"happiness"`
	Hunger         int       `json:"hunger"`
	Health         int       `json:"health"`
	Food           int       `json:"food"`
	Energy         int       `json:"energy"`
	CreatedAt      time.Time `json:"created_at"`
	LastFed        time.Time `json:"last_fed"`
	LastPlayed     time.Time `json:"last_played"`
	Cosmetic       string    `json:"cosmetic,omitempty"`
	ChainPetHandle string    `json:"chain_pet_handle,omitempty"`
}

// NewPet returns a pet with the starting stats.
func NewPet(deviceID, name string, now time.Time) *Pet {
	return &Pet{
		Name:       name,
		DeviceID:   deviceID,
		Level:      0,
		Happiness:  50,
		Hunger:     50,
		Health:     100,
		Food:       5,
		Energy:     5,
		CreatedAt:  now,
		LastFed:    now,
		LastPlayed: now,
	}
}

func clampStat(v int) int {
	if v < PetStatMin {
		return PetStatMin
	}
	if v > PetStatMax {
		return PetStatMax
	}
	return v
}

// Clamp forces every bounded stat into [0,100] and resources to be
// non-negative. Called before every persistence of a pet.
func (p *Pet) Clamp() {
	p.Happiness = clampStat(p.Happiness)
	p.Hunger = clampStat(p.Hunger)
	p.Health = clampStat(p.Health)
	if p.Food < 0 {
		p.Food = 0
	}
	if p.Energy < 0 {
		p.Energy = 0
	}
}

// RecalcLevel re-evaluates the level from experience. Level never decreases.
func (p *Pet) RecalcLevel() {
	level := 0
	for _, threshold := range levelThresholds {
		if p.Experience >= threshold {
			level++
		}
	}
	if level > p.Level {
		p.Level = level
	}
}

// DecayedView returns a copy with time-based decay applied as of now:
// hunger loses one point per whole hour since the last feed, happiness one
// point per whole two hours since the last play, and health moves one point
// toward the condition the other two stats indicate.
//
// Decay is a read-side projection; the stored stats are not modified, so
// repeated reads never compound the loss.
func (p *Pet) DecayedView(now time.Time) Pet {
	view := *p
	if hours := int(now.Sub(p.LastFed).Hours()); hours > 0 {
		view.Hunger -= hours
	}
	if twoHours := int(now.Sub(p.LastPlayed).Hours() / 2); twoHours > 0 {
		view.Happiness -= twoHours
	}
	view.Hunger = clampStat(view.Hunger)
	view.Happiness = clampStat(view.Happiness)
	if view.Hunger < 20 || view.Happiness < 20 {
		view.Health--
	} else if view.Hunger > 80 && view.Happiness > 80 {
		view.Health++
	}
	view.Health = clampStat(view.Health)
	return view
}

// AddResources credits a resource claim for the given step count.
// Returns ErrInsufficientSteps below the 100-step minimum.
func (p *Pet) AddResources(steps int) (foodGained, energyGained int, err error) {
	if steps < ClaimMinSteps {
		return 0, 0, ErrInsufficientSteps
	}
	foodGained = steps / ClaimFoodPerSteps
	energyGained = 2 * (steps / ClaimEnergyPerSteps)
	p.Food += foodGained
	p.Energy += energyGained
	p.TotalStepsFed += uint64(steps)
	return foodGained, energyGained, nil
}

// ApplyFeed consumes one food and applies the feed deltas.
func (p *Pet) ApplyFeed(now time.Time) error {
	if p.Food < 1 {
		return ErrInsufficientFood
	}
	p.Food--
	p.Hunger += feedHungerGain
	p.Happiness += feedHappinessGain
	p.Experience += feedExperience
	p.LastFed = now
	p.Clamp()
	p.RecalcLevel()
	return nil
}

// ApplyPlay consumes one energy and applies the play deltas.
func (p *Pet) ApplyPlay(now time.Time) error {
	if p.Energy < 1 {
		return ErrInsufficientEnergy
	}
	p.Energy--
	p.Happiness += playHappinessGain
	p.Health += playHealthGain
	p.Experience += playExperience
	p.LastPlayed = now
	p.Clamp()
	p.RecalcLevel()
	return nil
}

// AdoptChainStats overwrites the bounded stats from an authoritative chain
// snapshot. Resources and experience follow the snapshot as well; the chain
// is the source of truth once a pet is mirrored.
func (p *Pet) AdoptChainStats(happiness, hunger, health, food, energy int, experience uint64, level int) {
	p.Happiness = happiness
	p.Hunger = hunger
	p.Health = health
	p.Food = food
	p.Energy = energy
	if experience > p.Experience {
		p.Experience = experience
	}
	if level > p.Level {
		p.Level = level
	}
	p.Clamp()
}
