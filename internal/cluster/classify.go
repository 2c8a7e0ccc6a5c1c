package cluster

// Classify derives the cluster-wide assessment of a snapshot. It is pure:
// the same snapshot always yields an equal Assessment.
//
// Precedence of the status grade:
//  1. no primary                                   => CRITICAL / HIGH
//  2. more than one primary (split brain)          => CRITICAL / HIGH
//  3. one primary, all healthy, >= 1 secondary     => EXCELLENT / NONE
//  4. one primary, healthy majority                => GOOD / LOW
//  5. one primary otherwise                        => DEGRADED / MEDIUM
func Classify(s *Snapshot) Assessment {
	a := Assessment{
		ReplicaSet:       s.replicaSet,
		AssessedAt:       s.takenAt,
		TotalCount:       len(s.members),
		Primaries:        []string{},
		Secondaries:      []string{},
		UnhealthyMembers: []string{},
		RecoveryNeeded:   []string{},
		PerMemberLag:     make(map[string]MemberLag),
		NetworkIssues:    []NetworkIssue{},
	}

	healthySecondaries := 0
	for _, m := range s.members {
		switch m.State {
		case StatePrimary:
			a.Primaries = append(a.Primaries, m.Name)
		case StateSecondary:
			a.Secondaries = append(a.Secondaries, m.Name)
			if m.Healthy {
				healthySecondaries++
			}
		}
		if m.Healthy {
			a.HealthyCount++
		} else {
			a.UnhealthyMembers = append(a.UnhealthyMembers, m.Name)
		}
		if m.State.NeedsRecovery() {
			a.RecoveryNeeded = append(a.RecoveryNeeded, m.Name)
		}
		if issue, ok := networkIssue(m); ok {
			a.NetworkIssues = append(a.NetworkIssues, issue)
		}
	}

	a.PrimaryCount = len(a.Primaries)
	a.SecondaryCount = len(a.Secondaries)
	a.UnhealthyCount = a.TotalCount - a.HealthyCount
	if a.TotalCount > 0 {
		a.HealthPercentage = 100 * float64(a.HealthyCount) / float64(a.TotalCount)
	}

	a.OverallStatus, a.ThreatLevel = grade(a)
	a.NoPrimary = a.PrimaryCount == 0
	a.SplitBrain = a.PrimaryCount > 1
	a.Redundancy = redundancy(a, healthySecondaries)

	computeLag(s, &a)

	return a
}

func grade(a Assessment) (OverallStatus, ThreatLevel) {
	switch {
	case a.PrimaryCount == 0, a.PrimaryCount > 1:
		return StatusCritical, ThreatHigh
	case a.HealthyCount == a.TotalCount && a.SecondaryCount >= 1:
		return StatusExcellent, ThreatNone
	case a.HealthyCount >= a.TotalCount/2+1:
		return StatusGood, ThreatLow
	default:
		return StatusDegraded, ThreatMedium
	}
}

func redundancy(a Assessment, healthySecondaries int) Redundancy {
	switch {
	case a.PrimaryCount == 0 || healthySecondaries == 0:
		return RedundancyNone
	case healthySecondaries == a.SecondaryCount:
		return RedundancyFull
	default:
		return RedundancyPartial
	}
}

// computeLag fills PerMemberLag and MaxLagSeconds. The primary optime is only
// trusted when exactly one primary exists.
func computeLag(s *Snapshot, a *Assessment) {
	var primaryOptime *MemberStatus
	if a.PrimaryCount == 1 {
		p, _ := s.Member(a.Primaries[0])
		if p.Optime != nil {
			primaryOptime = &p
		}
	}

	for _, m := range s.members {
		if m.State == StatePrimary || m.State == StateArbiter {
			continue
		}
		if m.State.NeedsRecovery() || primaryOptime == nil || m.Optime == nil {
			a.PerMemberLag[m.Name] = MemberLag{}
			continue
		}

		lag := primaryOptime.Optime.Sub(*m.Optime).Seconds()
		if lag < 0 {
			lag = 0
		}
		a.PerMemberLag[m.Name] = MemberLag{LagSeconds: &lag, Quality: LagQualityFor(lag)}

		if a.MaxLagSeconds == nil || lag > *a.MaxLagSeconds {
			maxLag := lag
			a.MaxLagSeconds = &maxLag
		}
	}
}

func networkIssue(m MemberStatus) (NetworkIssue, bool) {
	if m.PingMillis != nil {
		if *m.PingMillis > HighLatencyMillis {
			ping := *m.PingMillis
			return NetworkIssue{
				Member:     m.Name,
				Kind:       IssueHighLatency,
				Severity:   "WARNING",
				PingMillis: &ping,
			}, true
		}
		return NetworkIssue{}, false
	}
	if !m.Healthy {
		return NetworkIssue{Member: m.Name, Kind: IssueNoConnection, Severity: "CRITICAL"}, true
	}
	return NetworkIssue{}, false
}
